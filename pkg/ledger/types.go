// Package ledger is the gateway to the external distributed ledger: it issues
// create/exercise commands and active-state queries over the ledger's
// JSON-over-HTTP command API and normalizes template identifiers and errors.
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Party identifies a ledger party.
type Party string

// ContractID references a contract on the ledger. Consuming choices archive
// the referenced contract; a given ContractID is never exercised twice.
type ContractID string

// TemplateID is a normalized "package:Module:Entity" identifier. Identifiers
// are supplied via configuration, never discovered by probing.
type TemplateID struct {
	PackageID string
	Module    string
	Entity    string
}

// ParseTemplateID parses "package:Module:Entity".
func ParseTemplateID(s string) (TemplateID, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return TemplateID{}, fmt.Errorf("malformed template id %q, want package:Module:Entity", s)
	}
	return TemplateID{PackageID: parts[0], Module: parts[1], Entity: parts[2]}, nil
}

func (t TemplateID) String() string {
	return t.PackageID + ":" + t.Module + ":" + t.Entity
}

func (t TemplateID) IsZero() bool {
	return t.PackageID == "" && t.Module == "" && t.Entity == ""
}

// Command is the union the command API accepts: exactly one member is set.
type Command struct {
	Create   *CreateCommand   `json:"CreateCommand,omitempty"`
	Exercise *ExerciseCommand `json:"ExerciseCommand,omitempty"`
}

type CreateCommand struct {
	TemplateID      string         `json:"templateId"`
	CreateArguments map[string]any `json:"createArguments"`
}

type ExerciseCommand struct {
	TemplateID     string         `json:"templateId"`
	ContractID     ContractID     `json:"contractId"`
	Choice         string         `json:"choice"`
	ChoiceArgument map[string]any `json:"choiceArgument"`
}

// NewCreate builds a create command.
func NewCreate(tpl TemplateID, args map[string]any) Command {
	return Command{Create: &CreateCommand{
		TemplateID:      tpl.String(),
		CreateArguments: args,
	}}
}

// NewExercise builds an exercise command on an existing contract.
func NewExercise(tpl TemplateID, cid ContractID, choice string, args map[string]any) Command {
	if args == nil {
		args = map[string]any{}
	}
	return Command{Exercise: &ExerciseCommand{
		TemplateID:     tpl.String(),
		ContractID:     cid,
		Choice:         choice,
		ChoiceArgument: args,
	}}
}

// SubmitRequest is one submit-and-wait batch. All commands commit in a single
// ledger transaction or not at all.
type SubmitRequest struct {
	Commands  []Command `json:"commands"`
	CommandID string    `json:"commandId"`
	ActAs     []Party   `json:"actAs"`
	ReadAs    []Party   `json:"readAs,omitempty"`
}

// SubmitResult reports the committed transaction.
type SubmitResult struct {
	UpdateID         string         `json:"updateId"`
	CompletionOffset int64          `json:"completionOffset"`
	Events           []CreatedEvent `json:"createdEvents"`
}

// CreatedEvent describes a contract created by a committed transaction.
type CreatedEvent struct {
	ContractID     ContractID      `json:"contractId"`
	TemplateID     string          `json:"templateId"`
	CreateArgument json.RawMessage `json:"createArgument"`
}

// FirstCreated returns the first created contract of the given template, if
// any. Used to pick the remainder contract out of a consuming exercise.
func (r *SubmitResult) FirstCreated(tpl TemplateID) (CreatedEvent, bool) {
	want := tpl.String()
	for _, ev := range r.Events {
		if ev.TemplateID == want {
			return ev, true
		}
	}
	return CreatedEvent{}, false
}

// ActiveContract is one entry of an active-contract-set query.
type ActiveContract struct {
	ContractID ContractID      `json:"contractId"`
	TemplateID string          `json:"templateId"`
	Payload    json.RawMessage `json:"createArgument"`
}

// ledgerError is the error body the command API returns on non-2xx.
type ledgerError struct {
	Code  string `json:"code"`
	Cause string `json:"cause"`
}
