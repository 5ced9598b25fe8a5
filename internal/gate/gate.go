package gate

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/metrics"
	"github.com/billscan/billscan/internal/model"
	"github.com/billscan/billscan/internal/rules"
)

// Outcome is the gate's verdict for one document.
type Outcome string

const (
	OutcomeAutoApprove Outcome = "auto_approve"
	OutcomeBlock       Outcome = "block"
)

// Decision records the verdict and every reason that contributed to it, so
// any decision remains explainable after the fact.
type Decision struct {
	DocumentID string    `json:"document_id"`
	Outcome    Outcome   `json:"outcome"`
	Mode       string    `json:"mode"`
	Threshold  float64   `json:"threshold"`
	Reasons    []string  `json:"reasons"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Gate combines rule results, contradictions, and calibrated confidence into
// an approve-or-block decision.
type Gate struct {
	cfg config.GateConfig
}

// New creates a Gate.
func New(cfg config.GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Decide evaluates in strict order: any failed hard rule blocks, then any
// critical contradiction blocks, then any required or critical field below
// the active mode's threshold blocks. Only a document clearing all three
// auto-approves. Every decision is logged with its reasons.
func (g *Gate) Decide(registry *model.FieldRegistry, res *model.Resolution, ruleResults []rules.Result, now time.Time) Decision {
	d := Decision{
		DocumentID: res.DocumentID,
		Mode:       g.cfg.Mode,
		Threshold:  g.cfg.Threshold(),
		DecidedAt:  now,
	}

	for _, r := range ruleResults {
		if r.Hard && !r.Passed {
			d.Reasons = append(d.Reasons, fmt.Sprintf("hard rule %s failed: %s", r.Rule, r.Message))
		}
	}
	if len(d.Reasons) == 0 {
		for _, c := range res.Contradictions {
			if c.Severity == model.SeverityCritical {
				d.Reasons = append(d.Reasons, fmt.Sprintf("critical contradiction %s: %s", c.Rule, c.Message))
			}
		}
	}
	if len(d.Reasons) == 0 {
		for i := range registry.Fields {
			spec := &registry.Fields[i]
			if !spec.Required && !spec.Critical {
				continue
			}
			f, ok := res.Fields[spec.Key]
			if !ok || f.Confidence < d.Threshold {
				conf := 0.0
				if ok {
					conf = f.Confidence
				}
				d.Reasons = append(d.Reasons,
					fmt.Sprintf("field %s confidence %.1f below %s threshold %.1f",
						spec.Key, conf, d.Mode, d.Threshold))
			}
		}
	}

	if len(d.Reasons) == 0 {
		d.Outcome = OutcomeAutoApprove
		d.Reasons = []string{"all hard rules passed, no critical contradictions, all required fields above threshold"}
	} else {
		d.Outcome = OutcomeBlock
	}

	metrics.GateDecisions.WithLabelValues(string(d.Outcome)).Inc()
	zap.L().Info("gate decision",
		zap.String("document_id", d.DocumentID),
		zap.String("outcome", string(d.Outcome)),
		zap.String("mode", d.Mode),
		zap.Strings("reasons", d.Reasons))
	return d
}
