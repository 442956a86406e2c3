package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidAddress      = errors.New("invalid destination address")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrUnknownMemo         = errors.New("memo does not resolve to a customer")
	ErrAccountNotFound     = errors.New("account does not exist on the network")
	ErrStateConflict       = errors.New("withdrawal not in expected state")
	ErrVersionConflict     = errors.New("optimistic lock conflict")
	ErrSubmissionRejected  = errors.New("transaction rejected by the network")
)
