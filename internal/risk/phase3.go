package risk

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"solsniper"
)

// nominalSellTokenAmount is the notional sell size simulated in Phase 3:
// 1000 whole tokens at the 10^6 fixed-point scale Pumpfun curves use.
const nominalSellTokenAmount = 1000 * 1_000_000

var taxLogPattern = regexp.MustCompile(`(?i)(tax|fee)[^0-9]{0,8}([0-9]{1,3}(?:\.[0-9]+)?)\s*%`)

// phase3 runs the sell simulation honeypot check (spec §4.7). When no
// simulator is registered for the request's DEX, it returns a neutral,
// non-critical result rather than guessing — see DESIGN.md.
func (a *Analyzer) phase3(ctx context.Context, req Request) (solsniper.RiskFactor, bool) {
	sim, ok := a.simulators[req.Dex]
	if !ok || sim == nil {
		return solsniper.RiskFactor{
			Name: "honeypot", Score: 0, MaxScore: ScoreHoneypotPassed, Passed: true,
			Details: "sell simulation unavailable for this dex",
		}, false
	}

	resp, err := sim.SimulateSell(ctx, req, nominalSellTokenAmount)
	if err != nil {
		return a.classifySimulationError(err.Error())
	}
	if resp == nil || resp.Value == nil {
		return solsniper.RiskFactor{
			Name: "honeypot", Score: -100, MaxScore: ScoreHoneypotPassed, Passed: false,
			Details: "empty simulation response",
		}, true
	}
	if resp.Value.Err != nil {
		return a.classifySimulationError(errToString(resp.Value.Err))
	}

	// Simulation succeeded: scan logs for an above-threshold transfer tax.
	for _, line := range resp.Value.Logs {
		m := taxLogPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pct := parsePercent(m[2])
		if pct > a.cfg.MaxTaxPercent {
			return solsniper.RiskFactor{
				Name: "honeypot", Score: -40, MaxScore: ScoreHoneypotPassed, Passed: false,
				Details: "sell tax exceeds configured ceiling",
			}, false
		}
	}

	return solsniper.RiskFactor{
		Name: "honeypot", Score: ScoreHoneypotPassed, MaxScore: ScoreHoneypotPassed, Passed: true,
		Details: "sell simulation succeeded",
	}, false
}

// classifySimulationError maps a simulated-sell failure to a Phase-3 factor
// per spec §4.7: insufficient funds is a half-credit inconclusive result
// (the wallet simply doesn't hold the nominal probe amount yet), an explicit
// deny/blacklist is a heavy honeypot penalty, and a transfer-limit error is
// penalized but not treated as an outright honeypot.
func (a *Analyzer) classifySimulationError(msg string) (solsniper.RiskFactor, bool) {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "insufficient"):
		return solsniper.RiskFactor{
			Name: "honeypot", Score: ScoreHoneypotHalf, MaxScore: ScoreHoneypotPassed, Passed: true,
			Details: "simulation inconclusive: insufficient funds for probe",
		}, false
	case strings.Contains(lower, "blocked"), strings.Contains(lower, "blacklist"), strings.Contains(lower, "denied"):
		return solsniper.RiskFactor{
			Name: "honeypot", Score: -100, MaxScore: ScoreHoneypotPassed, Passed: false,
			Details: "sell transaction explicitly blocked: " + msg,
		}, true
	case strings.Contains(lower, "max"), strings.Contains(lower, "limit"):
		return solsniper.RiskFactor{
			Name: "has_max_tx", Score: -20, MaxScore: ScoreHoneypotPassed, Passed: false,
			Details: "sell constrained by a max-transaction limit: " + msg,
		}, false
	default:
		return solsniper.RiskFactor{
			Name: "honeypot", Score: -100, MaxScore: ScoreHoneypotPassed, Passed: false,
			Details: "sell simulation failed: " + msg,
		}, true
	}
}

func parsePercent(s string) float64 {
	var intPart, fracPart float64
	var fracDiv float64 = 1
	seenDot := false
	for _, c := range s {
		if c == '.' {
			seenDot = true
			continue
		}
		if c < '0' || c > '9' {
			continue
		}
		d := float64(c - '0')
		if !seenDot {
			intPart = intPart*10 + d
		} else {
			fracPart = fracPart*10 + d
			fracDiv *= 10
		}
	}
	return intPart + fracPart/fracDiv
}

// errToString renders a simulated transaction's Err field (an arbitrary
// JSON-decoded value from the RPC response) as a searchable string.
func errToString(err interface{}) string {
	return fmt.Sprintf("%v", err)
}
