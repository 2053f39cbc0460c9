package core

import "seedqc/pkg/domain"

type (
	EntityType         = domain.EntityType
	Kind               = domain.Kind
	State              = domain.State
	Role               = domain.Role
	Actor              = domain.Actor
	Record             = domain.Record
	Replicate          = domain.Replicate
	Fields             = domain.Fields
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityRecord    = domain.EntityRecord
	EntityReplicate = domain.EntityReplicate
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)
