// Package pagerequest implements the internal page render protocol: the
// indexer asks the render endpoint to execute named actions for a page, the
// request travels in the X-Tx-Solr-Iq header and is authenticated with an
// HMAC over its identifying fields.
package pagerequest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/indexqueue/internal/signing"
)

// HeaderName carries the JSON encoded Request.
const HeaderName = "X-Tx-Solr-Iq"

// Action names.
const (
	ActionFindUserGroups = "findUserGroups"
	ActionIndexPage      = "indexPage"
)

// Well known request parameters.
const (
	ParamAccessRootline = "accessRootline"
	ParamMountPoint     = "mountPoint"
	ParamRootPageID     = "rootPageId"
)

var (
	// ErrProtocol marks malformed or mismatching protocol messages.
	ErrProtocol = errors.New("page request protocol error")
	// ErrUnauthorized marks requests whose hash does not validate.
	ErrUnauthorized = errors.New("page request not authorized")
)

// Request is the header payload. Parameters travel as additional top level
// keys of the JSON object.
type Request struct {
	RequestID  string
	ItemID     int64
	PageID     int
	Language   int
	Actions    []string
	Timestamp  int64
	Hash       string
	Parameters map[string]string
}

var reservedKeys = map[string]bool{
	"requestId": true, "item": true, "page": true, "language": true,
	"actions": true, "timestamp": true, "hash": true,
}

// MarshalJSON implements json.Marshaler.
func (r *Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Parameters)+7)
	for k, v := range r.Parameters {
		if reservedKeys[k] {
			return nil, fmt.Errorf("parameter %q shadows a protocol field: %w", k, ErrProtocol)
		}
		out[k] = v
	}
	out["requestId"] = r.RequestID
	out["item"] = r.ItemID
	out["page"] = r.PageID
	out["language"] = r.Language
	out["actions"] = strings.Join(r.Actions, ",")
	out["timestamp"] = r.Timestamp
	out["hash"] = r.Hash
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var base struct {
		RequestID string `json:"requestId"`
		ItemID    int64  `json:"item"`
		PageID    int    `json:"page"`
		Language  int    `json:"language"`
		Actions   string `json:"actions"`
		Timestamp int64  `json:"timestamp"`
		Hash      string `json:"hash"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	*r = Request{
		RequestID: base.RequestID,
		ItemID:    base.ItemID,
		PageID:    base.PageID,
		Language:  base.Language,
		Timestamp: base.Timestamp,
		Hash:      base.Hash,
	}
	for _, a := range strings.Split(base.Actions, ",") {
		if a = strings.TrimSpace(a); a != "" {
			r.Actions = append(r.Actions, a)
		}
	}
	for k, v := range raw {
		if reservedKeys[k] {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("parameter %s: %w", k, err)
		}
		if r.Parameters == nil {
			r.Parameters = make(map[string]string)
		}
		r.Parameters[k] = s
	}
	return nil
}

// Param returns a parameter, empty when unset.
func (r *Request) Param(name string) string {
	return r.Parameters[name]
}

// signedParts lists every request field in a fixed order.
func (r *Request) signedParts() []string {
	parts := []string{
		r.RequestID,
		strconv.FormatInt(r.ItemID, 10),
		strconv.Itoa(r.PageID),
		strconv.FormatInt(r.Timestamp, 10),
		strconv.Itoa(r.Language),
		strings.Join(r.Actions, ","),
	}
	keys := make([]string, 0, len(r.Parameters))
	for k := range r.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+r.Parameters[k])
	}
	return parts
}

// Sign sets the hash.
func (r *Request) Sign(s *signing.Signer) {
	r.Hash = s.Sign(r.signedParts()...)
}

// Verify checks the hash.
func (r *Request) Verify(s *signing.Signer) bool {
	return s.Validate(r.Hash, r.signedParts()...)
}

// Response is the JSON body returned by the render endpoint.
type Response struct {
	RequestID     string                     `json:"requestId"`
	ActionResults map[string]json.RawMessage `json:"actionResults"`
}

// ActionResult decodes the result of action into v.
func (r *Response) ActionResult(action string, v any) error {
	raw, ok := r.ActionResults[action]
	if !ok {
		return fmt.Errorf("no result for action %s: %w", action, ErrProtocol)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("result of action %s: %v: %w", action, err, ErrProtocol)
	}
	return nil
}

// UserGroupsResult is the findUserGroups result.
type UserGroupsResult []int

// IndexPageResult is the indexPage result.
type IndexPageResult struct {
	PageIndexed bool   `json:"pageIndexed"`
	DocumentID  string `json:"documentId,omitempty"`
	Status      int    `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
}
