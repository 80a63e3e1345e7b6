package main

import "strings"

// DirectoryUser is one account found under a monitored directory group.
type DirectoryUser struct {
	AccountName        string
	DisplayName        string
	Mail               *string // nil when the directory holds no value
	UserAccountControl string
	TargetGroupID      int64
}

func (u DirectoryUser) Email() (string, bool) {
	if u.Mail == nil || *u.Mail == "" {
		return "", false
	}

	return *u.Mail, true
}

type RemotePpskUser struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	UserName string `json:"user_name"`
	Email    string `json:"email_address"`
	GroupID  int64  `json:"user_group_id"`
}

type RemotePcgUser struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	UserGroupName string `json:"user_group_name"`
}

type PolicyMapping struct {
	UserGroupName string `yaml:"user_group_name"`
	PolicyID      int64  `yaml:"policy_id"`
	PolicyName    string `yaml:"policy_name"`
}

type GroupRole struct {
	DirectoryGroup string `yaml:"directory_group"`
	XIQGroupID     int64  `yaml:"xiq_group_id"`
}

type Decision int

const (
	DecisionCreate Decision = iota
	DecisionSkipNoEmail
	DecisionSkipDisabled
	DecisionAlreadyPresent
	DecisionKeep
	DecisionDelete
	DecisionDeleteWithPcg
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionSkipNoEmail:
		return "skip-no-email"
	case DecisionSkipDisabled:
		return "skip-disabled"
	case DecisionAlreadyPresent:
		return "already-present"
	case DecisionKeep:
		return "keep"
	case DecisionDelete:
		return "delete"
	case DecisionDeleteWithPcg:
		return "delete-with-pcg"
	default:
		return "unknown"
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
