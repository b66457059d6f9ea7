package orchestrator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUsage is returned for an unsupported number of design arguments.
var ErrUsage = errors.New(`usage:
  <desktop link>
  <desktop link> <mobile link>
  <desktop link> <desktop node id> <mobile link> <mobile node id>`)

var (
	fileKeyPattern = regexp.MustCompile(`figma\.com/(?:design|file)/([a-zA-Z0-9]+)`)
	nodeIDPattern  = regexp.MustCompile(`node-id=([0-9]+-[0-9]+)`)
)

// DesignInput names the designs a run implements.
type DesignInput struct {
	PCLink       string `json:"pc_link"`
	PCNodeID     string `json:"pc_node_id,omitempty"`
	MobileLink   string `json:"mobile_link,omitempty"`
	MobileNodeID string `json:"mobile_node_id,omitempty"`
}

// ParseArgs accepts one, two or four positional arguments.
func ParseArgs(args []string) (DesignInput, error) {
	clean := make([]string, len(args))
	for i, a := range args {
		clean[i] = strings.TrimSpace(a)
	}
	var in DesignInput
	switch len(clean) {
	case 1:
		in = DesignInput{PCLink: clean[0]}
	case 2:
		in = DesignInput{PCLink: clean[0], MobileLink: clean[1]}
	case 4:
		in = DesignInput{PCLink: clean[0], PCNodeID: clean[1], MobileLink: clean[2], MobileNodeID: clean[3]}
	default:
		return DesignInput{}, fmt.Errorf("%d arguments: %w", len(args), ErrUsage)
	}
	return in, in.Validate()
}

// Validate requires a desktop link.
func (d DesignInput) Validate() error {
	if d.PCLink == "" {
		return fmt.Errorf("a desktop design link is required: %w", ErrUsage)
	}
	return nil
}

// PCFileKey extracts the Figma file key of the desktop design.
func (d DesignInput) PCFileKey() string { return fileKey(d.PCLink) }

// MobileFileKey extracts the Figma file key of the mobile design.
func (d DesignInput) MobileFileKey() string { return fileKey(d.MobileLink) }

// ResolvedPCNodeID prefers the explicit node id over the one in the link.
func (d DesignInput) ResolvedPCNodeID() string {
	if d.PCNodeID != "" {
		return d.PCNodeID
	}
	return nodeIDFromLink(d.PCLink)
}

// ResolvedMobileNodeID prefers the explicit node id over the one in the link.
func (d DesignInput) ResolvedMobileNodeID() string {
	if d.MobileNodeID != "" {
		return d.MobileNodeID
	}
	return nodeIDFromLink(d.MobileLink)
}

func fileKey(link string) string {
	if m := fileKeyPattern.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return ""
}

// nodeIDFromLink converts the URL form 1-2 to the API form 1:2.
func nodeIDFromLink(link string) string {
	if m := nodeIDPattern.FindStringSubmatch(link); m != nil {
		return strings.ReplaceAll(m[1], "-", ":")
	}
	return ""
}
