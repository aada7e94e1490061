package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ActionType identifies the kind of step a WorkflowAction performs.
type ActionType string

const (
	// Communication.
	ActionSendSMS          ActionType = "send_sms"
	ActionMakeCall         ActionType = "make_call"
	ActionSendEmail        ActionType = "send_email"
	ActionSendNotification ActionType = "send_notification"

	// CRM mutation.
	ActionCreateTask    ActionType = "create_task"
	ActionUpdateStatus  ActionType = "update_status"
	ActionAddNote       ActionType = "add_note"
	ActionAssignUser    ActionType = "assign_user"
	ActionAddTag        ActionType = "add_tag"
	ActionRemoveTag     ActionType = "remove_tag"
	ActionMoveLeadStage ActionType = "move_lead_stage"
	ActionCreateDeal    ActionType = "create_deal"
	ActionUpdateDeal    ActionType = "update_deal"
	ActionMoveDealStage ActionType = "move_deal_stage"
	ActionCloseDeal     ActionType = "close_deal"

	// Flow control.
	ActionWait      ActionType = "wait"
	ActionCondition ActionType = "condition"
)

// ActionCategory groups action types by the collaborator that serves them.
type ActionCategory string

const (
	CategoryCommunication ActionCategory = "communication"
	CategoryCRM           ActionCategory = "crm"
	CategoryFlowControl   ActionCategory = "flow_control"
)

var ActionTypes = []ActionType{
	ActionSendSMS, ActionMakeCall, ActionSendEmail, ActionSendNotification,
	ActionCreateTask, ActionUpdateStatus, ActionAddNote, ActionAssignUser, ActionAddTag,
	ActionRemoveTag, ActionMoveLeadStage, ActionCreateDeal, ActionUpdateDeal,
	ActionMoveDealStage, ActionCloseDeal,
	ActionWait, ActionCondition,
}

var ErrUnknownActionType = errors.New("unknown action type")

func (t ActionType) Valid() bool {
	return slices.Contains(ActionTypes, t)
}

func (t ActionType) Category() ActionCategory {
	switch t {
	case ActionSendSMS, ActionMakeCall, ActionSendEmail, ActionSendNotification:
		return CategoryCommunication
	case ActionWait, ActionCondition:
		return CategoryFlowControl
	default:
		return CategoryCRM
	}
}

// ActionConfig is the typed payload of a WorkflowAction. Exactly one struct
// implements it per ActionType.
type ActionConfig interface {
	ActionType() ActionType
}

// EntityKind is the CRM record a mutation targets.
type EntityKind string

const (
	EntityNone EntityKind = ""
	EntityLead EntityKind = "lead"
	EntityDeal EntityKind = "deal"
)

// EntityTargeted is implemented by CRM configs that mutate an existing record.
// The returned id is the one configured explicitly, possibly empty.
type EntityTargeted interface {
	Target() (EntityKind, string)
}

type SendSMSConfig struct {
	To      string `json:"to"      validate:"required"`
	Message string `json:"message" validate:"required"`
}

type MakeCallConfig struct {
	To     string `json:"to"               validate:"required"`
	Script string `json:"script,omitempty"`
}

type SendEmailConfig struct {
	Recipient string `json:"recipient"    validate:"required"`
	Subject   string `json:"subject"      validate:"required"`
	Body      string `json:"body"         validate:"required"`
	CC        string `json:"cc,omitempty"`
}

type SendNotificationConfig struct {
	UserID  string `json:"user_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"           validate:"required"`
}

type CreateTaskConfig struct {
	Title       string `json:"title"                 validate:"required"`
	Description string `json:"description,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty" validate:"gte=0"`
	Priority    string `json:"priority,omitempty"    validate:"omitempty,oneof=low medium high urgent"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	LeadID      string `json:"lead_id,omitempty"`
	DealID      string `json:"deal_id,omitempty"`
}

type UpdateStatusConfig struct {
	Status string `json:"status"            validate:"required"`
	LeadID string `json:"lead_id,omitempty"`
}

type AddNoteConfig struct {
	Content string `json:"content"           validate:"required"`
	LeadID  string `json:"lead_id,omitempty"`
	DealID  string `json:"deal_id,omitempty"`
}

type AssignUserConfig struct {
	UserID string `json:"user_id"           validate:"required"`
	LeadID string `json:"lead_id,omitempty"`
}

type AddTagConfig struct {
	Tag    string `json:"tag"               validate:"required"`
	LeadID string `json:"lead_id,omitempty"`
}

type RemoveTagConfig struct {
	Tag    string `json:"tag"               validate:"required"`
	LeadID string `json:"lead_id,omitempty"`
}

type MoveLeadStageConfig struct {
	StageID string `json:"stage_id"          validate:"required"`
	LeadID  string `json:"lead_id,omitempty"`
}

type CreateDealConfig struct {
	Title      string  `json:"title"                 validate:"required"`
	Value      float64 `json:"value,omitempty"       validate:"gte=0"`
	Currency   string  `json:"currency,omitempty"`
	PipelineID string  `json:"pipeline_id,omitempty"`
	StageID    string  `json:"stage_id,omitempty"`
	LeadID     string  `json:"lead_id,omitempty"`
}

type UpdateDealConfig struct {
	Fields map[string]any `json:"fields"            validate:"required,min=1"`
	DealID string         `json:"deal_id,omitempty"`
}

type MoveDealStageConfig struct {
	StageID string `json:"stage_id"          validate:"required"`
	DealID  string `json:"deal_id,omitempty"`
}

type CloseDealConfig struct {
	Outcome string `json:"outcome"           validate:"required,oneof=won lost"`
	Reason  string `json:"reason,omitempty"`
	DealID  string `json:"deal_id,omitempty"`
}

// WaitUnit is the time unit of a wait action.
type WaitUnit string

const (
	WaitMinutes WaitUnit = "minutes"
	WaitHours   WaitUnit = "hours"
	WaitDays    WaitUnit = "days"
)

type WaitConfig struct {
	Duration int      `json:"duration" validate:"required,gt=0"`
	Unit     WaitUnit `json:"unit"     validate:"required,oneof=minutes hours days"`
}

// Delay converts the configured duration into a time.Duration.
func (c *WaitConfig) Delay() (time.Duration, error) {
	if c.Duration <= 0 {
		return 0, fmt.Errorf("wait duration must be positive, got %d", c.Duration)
	}

	var unit time.Duration

	switch c.Unit {
	case WaitMinutes:
		unit = time.Minute
	case WaitHours:
		unit = time.Hour
	case WaitDays:
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown wait unit %q", c.Unit)
	}

	return time.Duration(c.Duration) * unit, nil
}

// ConditionActionConfig guards two ordered branches with one condition.
// Exactly one branch runs per evaluation.
type ConditionActionConfig struct {
	Condition  WorkflowCondition `json:"condition"`
	IfBranch   []WorkflowAction  `json:"if_branch"`
	ElseBranch []WorkflowAction  `json:"else_branch"`
}

func (*SendSMSConfig) ActionType() ActionType          { return ActionSendSMS }
func (*MakeCallConfig) ActionType() ActionType         { return ActionMakeCall }
func (*SendEmailConfig) ActionType() ActionType        { return ActionSendEmail }
func (*SendNotificationConfig) ActionType() ActionType { return ActionSendNotification }
func (*CreateTaskConfig) ActionType() ActionType       { return ActionCreateTask }
func (*UpdateStatusConfig) ActionType() ActionType     { return ActionUpdateStatus }
func (*AddNoteConfig) ActionType() ActionType          { return ActionAddNote }
func (*AssignUserConfig) ActionType() ActionType       { return ActionAssignUser }
func (*AddTagConfig) ActionType() ActionType           { return ActionAddTag }
func (*RemoveTagConfig) ActionType() ActionType        { return ActionRemoveTag }
func (*MoveLeadStageConfig) ActionType() ActionType    { return ActionMoveLeadStage }
func (*CreateDealConfig) ActionType() ActionType       { return ActionCreateDeal }
func (*UpdateDealConfig) ActionType() ActionType       { return ActionUpdateDeal }
func (*MoveDealStageConfig) ActionType() ActionType    { return ActionMoveDealStage }
func (*CloseDealConfig) ActionType() ActionType        { return ActionCloseDeal }
func (*WaitConfig) ActionType() ActionType             { return ActionWait }
func (*ConditionActionConfig) ActionType() ActionType  { return ActionCondition }

func (c *UpdateStatusConfig) Target() (EntityKind, string)  { return EntityLead, c.LeadID }
func (c *AssignUserConfig) Target() (EntityKind, string)    { return EntityLead, c.LeadID }
func (c *AddTagConfig) Target() (EntityKind, string)        { return EntityLead, c.LeadID }
func (c *RemoveTagConfig) Target() (EntityKind, string)     { return EntityLead, c.LeadID }
func (c *MoveLeadStageConfig) Target() (EntityKind, string) { return EntityLead, c.LeadID }
func (c *UpdateDealConfig) Target() (EntityKind, string)    { return EntityDeal, c.DealID }
func (c *MoveDealStageConfig) Target() (EntityKind, string) { return EntityDeal, c.DealID }
func (c *CloseDealConfig) Target() (EntityKind, string)     { return EntityDeal, c.DealID }

// Target of a note is the deal when one is configured, otherwise the lead.
func (c *AddNoteConfig) Target() (EntityKind, string) {
	if c.DealID != "" {
		return EntityDeal, c.DealID
	}

	return EntityLead, c.LeadID
}

// NewActionConfig returns an empty payload for the given action type.
func NewActionConfig(actionType ActionType) (ActionConfig, error) {
	switch actionType {
	case ActionSendSMS:
		return &SendSMSConfig{}, nil
	case ActionMakeCall:
		return &MakeCallConfig{}, nil
	case ActionSendEmail:
		return &SendEmailConfig{}, nil
	case ActionSendNotification:
		return &SendNotificationConfig{}, nil
	case ActionCreateTask:
		return &CreateTaskConfig{}, nil
	case ActionUpdateStatus:
		return &UpdateStatusConfig{}, nil
	case ActionAddNote:
		return &AddNoteConfig{}, nil
	case ActionAssignUser:
		return &AssignUserConfig{}, nil
	case ActionAddTag:
		return &AddTagConfig{}, nil
	case ActionRemoveTag:
		return &RemoveTagConfig{}, nil
	case ActionMoveLeadStage:
		return &MoveLeadStageConfig{}, nil
	case ActionCreateDeal:
		return &CreateDealConfig{}, nil
	case ActionUpdateDeal:
		return &UpdateDealConfig{}, nil
	case ActionMoveDealStage:
		return &MoveDealStageConfig{}, nil
	case ActionCloseDeal:
		return &CloseDealConfig{}, nil
	case ActionWait:
		return &WaitConfig{}, nil
	case ActionCondition:
		return &ConditionActionConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}
}

// DecodeActionConfig decodes raw JSON into the payload struct for actionType.
func DecodeActionConfig(actionType ActionType, raw json.RawMessage) (ActionConfig, error) {
	config, err := NewActionConfig(actionType)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return config, nil
	}

	err = json.Unmarshal(trimmed, config)
	if err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", actionType, err)
	}

	return config, nil
}

type actionWire struct {
	ID     string          `json:"id"`
	Type   ActionType      `json:"type"`
	Config json.RawMessage `json:"config"`
	Order  int             `json:"order"`
}

func (a WorkflowAction) MarshalJSON() ([]byte, error) {
	config := json.RawMessage("{}")

	if a.Config != nil {
		if a.Config.ActionType() != a.Type {
			return nil, fmt.Errorf("action %s: config for %s does not match type %s", a.ID, a.Config.ActionType(), a.Type)
		}

		encoded, err := json.Marshal(a.Config)
		if err != nil {
			return nil, err
		}

		config = encoded
	}

	return json.Marshal(actionWire{ID: a.ID, Type: a.Type, Config: config, Order: a.Order})
}

func (a *WorkflowAction) UnmarshalJSON(data []byte) error {
	var wire actionWire

	err := json.Unmarshal(data, &wire)
	if err != nil {
		return err
	}

	config, err := DecodeActionConfig(wire.Type, wire.Config)
	if err != nil {
		return fmt.Errorf("action %s: %w", wire.ID, err)
	}

	a.ID = wire.ID
	a.Type = wire.Type
	a.Config = config
	a.Order = wire.Order

	return nil
}
