package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/mesakiosk/internal/navigation"
	"github.com/desertthunder/mesakiosk/internal/shared"
	"github.com/urfave/cli/v3"
)

type policyResult struct {
	Target  string `json:"target"`
	Current string `json:"current,omitempty"`
	Action  string `json:"action"`
	Reason  string `json:"reason"`
}

// PolicyCheck prints what a tab would do when asked to navigate to the given URL.
func (r *Runner) PolicyCheck(ctx context.Context, cmd *cli.Command) error {
	target := cmd.StringArg("url")
	if target == "" {
		return fmt.Errorf("%w: url is required", shared.ErrMissingArgument)
	}
	target = shared.NormalizeURL(target)
	current := cmd.String("current")
	if current != "" {
		current = shared.NormalizeURL(current)
	}

	d := navigation.Decide(target, current, r.allowList())
	r.logger.Debug("policy decision", "target", target, "current", current, "action", d.Action)

	if cmd.Bool("json") {
		return r.writeJSON(policyResult{Target: target, Current: current, Action: d.Action.String(), Reason: d.Reason}, false)
	}
	r.writePlain("%s → %s\n", target, d)
	return nil
}

// PolicyDomains lists the domains tabs may stay on.
func (r *Runner) PolicyDomains(ctx context.Context, cmd *cli.Command) error {
	domains := r.allowList().Domains()
	r.writePlain("%d allowed domain(s):\n", len(domains))
	for _, d := range domains {
		r.writePlain("  %s\n", d)
	}
	return nil
}
