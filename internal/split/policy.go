package split

import (
	"fmt"
	"regexp"

	"quire/internal/project"
)

// Policy holds the chunk splitting constraints. Sizes are in bytes of
// transformed code.
type Policy struct {
	MinSize              int
	MinChunks            int
	MaxAsyncRequests     int
	MaxInitialRequests   int
	EnforceSizeThreshold int // 0 disables
	Vendor               *regexp.Regexp
	VendorName           string
	CommonName           string
	// Root shortens async chunk names; module ids are used as-is when empty.
	Root string
}

// SplitPolicyError reports a policy that is invalid or cannot be satisfied
// by the graph.
type SplitPolicyError struct {
	Constraint string
	Detail     string
}

func (e *SplitPolicyError) Error() string {
	return fmt.Sprintf("chunk split policy: %s: %s", e.Constraint, e.Detail)
}

// PolicyFromConfig builds the policy of a validated configuration.
func PolicyFromConfig(cfg project.Config) (Policy, error) {
	sc := cfg.Optimization.SplitChunks
	p := Policy{
		MinSize:              sc.MinSize,
		MinChunks:            sc.MinChunks,
		MaxAsyncRequests:     sc.MaxAsyncRequests,
		MaxInitialRequests:   sc.MaxInitialRequests,
		EnforceSizeThreshold: sc.EnforceSizeThreshold,
		VendorName:           sc.VendorName,
		CommonName:           sc.CommonName,
		Root:                 cfg.Root,
	}
	pattern := sc.VendorTest
	if pattern == "" {
		pattern = project.DefaultVendorTest
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Policy{}, &SplitPolicyError{Constraint: "vendorTest", Detail: err.Error()}
	}
	p.Vendor = re
	return p, p.Validate()
}

// Validate rejects values no graph can satisfy.
func (p Policy) Validate() error {
	switch {
	case p.MinChunks < 1:
		return &SplitPolicyError{Constraint: "minChunks", Detail: fmt.Sprintf("must be at least 1, got %d", p.MinChunks)}
	case p.MinSize < 0:
		return &SplitPolicyError{Constraint: "minSize", Detail: fmt.Sprintf("must not be negative, got %d", p.MinSize)}
	case p.EnforceSizeThreshold < 0:
		return &SplitPolicyError{Constraint: "enforceSizeThreshold", Detail: fmt.Sprintf("must not be negative, got %d", p.EnforceSizeThreshold)}
	case p.MaxInitialRequests < 1:
		return &SplitPolicyError{Constraint: "maxInitialRequests", Detail: fmt.Sprintf("must be at least 1, got %d", p.MaxInitialRequests)}
	case p.MaxAsyncRequests < 1:
		return &SplitPolicyError{Constraint: "maxAsyncRequests", Detail: fmt.Sprintf("must be at least 1, got %d", p.MaxAsyncRequests)}
	case p.VendorName == "" || p.CommonName == "":
		return &SplitPolicyError{Constraint: "cacheGroups", Detail: "vendor and common chunks need names"}
	case p.VendorName == p.CommonName:
		return &SplitPolicyError{Constraint: "cacheGroups", Detail: fmt.Sprintf("vendor and common chunks share the name %q", p.VendorName)}
	}
	return nil
}

func (p Policy) isVendor(id string) bool {
	return p.Vendor != nil && p.Vendor.MatchString(id)
}

func (p Policy) commonMinChunks() int {
	return max(p.MinChunks, 2)
}
