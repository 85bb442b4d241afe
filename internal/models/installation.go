package models

import "time"

// Installation is GitHub's grant for the app to act on a set of
// repositories. Keyed by the numeric installation id; looked up by
// (userId, accountLogin) when resolving a deployment request.
type Installation struct {
	InstallationID int64     `json:"installationId" dynamodbav:"installationId"`
	UserID         string    `json:"userId" dynamodbav:"userId"`
	AccountLogin   string    `json:"accountLogin" dynamodbav:"accountLogin"`
	AccountType    string    `json:"accountType,omitempty" dynamodbav:"accountType,omitempty"`
	CreatedAt      time.Time `json:"createdAt" dynamodbav:"createdAt"`
}
