package sip

import "github.com/sipstack/transact/internal/randutil"

// newLocalTag generates a fresh From/To tag token (≥64 bits entropy per
// SPEC_FULL §4.6).
func newLocalTag() string { return randutil.GenerateTag() }

// NewBranch generates a fresh Via branch token with the RFC 3261 magic
// cookie.
func NewBranch() string { return randutil.GenerateBranch() }
