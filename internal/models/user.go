package models

import "time"

// User is an identity derived from a linked GitHub account.
// UserID is the GitHub numeric account id rendered as a string.
type User struct {
	UserID      string    `json:"userId" dynamodbav:"userId"`
	GitHubLogin string    `json:"githubLogin" dynamodbav:"githubLogin"`
	Name        string    `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Email       string    `json:"email,omitempty" dynamodbav:"email,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty" dynamodbav:"avatarUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt" dynamodbav:"createdAt"`
	LastLoginAt time.Time `json:"lastLoginAt" dynamodbav:"lastLoginAt"`
}
