package models

import "time"

// DBState is the observed lifecycle state of a user database.
type DBState string

const (
	DBStateCreating  DBState = "CREATING"
	DBStateAvailable DBState = "AVAILABLE"
	DBStateStopped   DBState = "STOPPED"
	DBStateUnknown   DBState = "UNKNOWN"
)

// Database is the per-user dedicated Postgres instance. Each user owns
// at most one row with a non-terminal state.
type Database struct {
	DatabaseID        string    `json:"databaseId" dynamodbav:"databaseId"`
	UserID            string    `json:"userId" dynamodbav:"userId"`
	DBState           DBState   `json:"dbState" dynamodbav:"dbState"`
	Username          string    `json:"username" dynamodbav:"username"`
	PasswordParam     string    `json:"-" dynamodbav:"passwordParam"`
	AvailabilityZone  string    `json:"availabilityZone" dynamodbav:"availabilityZone"`
	SubnetID          string    `json:"subnetId" dynamodbav:"subnetId"`
	ServiceArn        string    `json:"serviceArn,omitempty" dynamodbav:"serviceArn,omitempty"`
	TaskDefinitionArn string    `json:"taskDefinitionArn,omitempty" dynamodbav:"taskDefinitionArn,omitempty"`
	InternalEndpoint  string    `json:"internalEndpoint,omitempty" dynamodbav:"internalEndpoint,omitempty"`
	ExternalEndpoint  string    `json:"externalEndpoint,omitempty" dynamodbav:"externalEndpoint,omitempty"`
	CreatedAt         time.Time `json:"createdAt" dynamodbav:"createdAt"`
}
