// Package types holds the request and response bodies of the admin API.
package types

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is returned by the liveness route.
type StatusResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SyncRequest asks for a member sync. IsSignUp completes a pending sign-up
// started by the sync command; WebhookToken names an interaction reply to
// update with the result.
type SyncRequest struct {
	IsSignUp     bool   `json:"is_sign_up"`
	WebhookToken string `json:"webhook_token" validate:"omitempty,max=512"`
}

// RoleChange is one role difference in a sync response.
type RoleChange struct {
	Kind   string `json:"kind"`
	RoleID string `json:"role_id"`
}

// NicknameChange is a nickname difference in a sync response.
type NicknameChange struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

// SyncResponse describes a completed sync.
type SyncResponse struct {
	ServerID             string          `json:"server_id"`
	RoleChanges          []RoleChange    `json:"role_changes"`
	NicknameChange       *NicknameChange `json:"nickname_change"`
	MemberStatus         string          `json:"member_status"`
	ProfileChanged       bool            `json:"profile_changed"`
	IsMissingConnections bool            `json:"is_missing_connections"`
}

// PatreonWebhookResponse reports how many member syncs a pledge triggered.
type PatreonWebhookResponse struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// ModelUpdateKind is the database operation behind a model update.
type ModelUpdateKind string

const (
	ModelInsert ModelUpdateKind = "INSERT"
	ModelUpdate ModelUpdateKind = "UPDATE"
	ModelDelete ModelUpdateKind = "DELETE"
)

// ModelUpdatePayload is a row change sent by the database webhook.
type ModelUpdatePayload struct {
	Kind      ModelUpdateKind `json:"type"       validate:"required,oneof=INSERT UPDATE DELETE"`
	Table     string          `json:"table"      validate:"required"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

// ModelRecord holds the columns of a changed row used to locate cache entries.
type ModelRecord struct {
	ID       FlexibleID `json:"id"`
	ServerID FlexibleID `json:"server_id"`
	UserID   string     `json:"user_id"`
	Name     string     `json:"name"`
}

// FlexibleID accepts identifiers sent either as JSON strings or numbers.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}

		*f = FlexibleID(s)

		return nil
	}

	if string(data) == "null" {
		*f = ""
		return nil
	}

	*f = FlexibleID(data)

	return nil
}
