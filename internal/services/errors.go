// Package services defines the business logic for search orchestration,
// result caching, history, subscriptions, and the research assistant.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

var (
	// ErrEmptyMolecule is returned when a search request names no molecule.
	// Surfaced before any network call and never retried.
	ErrEmptyMolecule = errors.New("molecule is empty")

	// ErrQuotaExceeded is returned when a user's plan quota is exhausted for
	// the current period.
	ErrQuotaExceeded = errors.New("search quota exceeded for current plan")

	// ErrUnknownPlan is returned when a plan change names a plan that does
	// not exist.
	ErrUnknownPlan = errors.New("unknown subscription plan")

	// ErrHistoryNotFound indicates that the requested history entry does not
	// exist or is not accessible to the current user.
	ErrHistoryNotFound = errors.New("history entry not found")

	// ErrEmptyQuestion is returned when an assistant request contains an
	// empty question.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrNoResultPayload indicates a history entry without a stored result
	// payload; the assistant has nothing to ground its answer on.
	ErrNoResultPayload = errors.New("history entry has no result payload")
)
