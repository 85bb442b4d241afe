package models

import "time"

// Service is the stable identity of a deployed application for a
// user-repository pair. ServiceID is "{userId}-{owner}-{repo}".
type Service struct {
	ServiceID          string    `json:"serviceId" dynamodbav:"serviceId"`
	UserID             string    `json:"userId" dynamodbav:"userId"`
	ServiceName        string    `json:"serviceName" dynamodbav:"serviceName"`
	ActiveDeploymentID string    `json:"activeDeploymentId,omitempty" dynamodbav:"activeDeploymentId,omitempty"`
	ActiveCreatedAt    time.Time `json:"-" dynamodbav:"activeCreatedAt,omitempty"`
	ServiceEndpoint    string    `json:"serviceEndpoint,omitempty" dynamodbav:"serviceEndpoint,omitempty"`
}
