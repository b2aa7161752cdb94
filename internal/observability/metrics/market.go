package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type hireKey struct {
	agent   string
	outcome string
}

type paymentKey struct {
	mode    string
	outcome string
}

// ObserveHire counts one hire attempt. outcome is "ok" or the error code.
func ObserveHire(agent, outcome string) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hires[hireKey{agent: agent, outcome: outcome}]++
}

// ObservePayment counts a settlement attempt and records its duration.
func ObservePayment(mode, outcome string, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payments[paymentKey{mode: mode, outcome: outcome}]++

	hist := c.settle[mode]
	if hist == nil {
		hist = newHistogram(0.1, 0.5, 1, 2, 5, 10, 20, 30, 60)
		c.settle[mode] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveAgentSource counts which source supplied the agent set for a run.
func ObserveAgentSource(origin string) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.origins[origin]++
}

func (c *collector) renderDomain(b *strings.Builder) {
	hires := make([]hireKey, 0, len(c.hires))
	for key := range c.hires {
		hires = append(hires, key)
	}
	sort.Slice(hires, func(i, j int) bool {
		if hires[i].agent != hires[j].agent {
			return hires[i].agent < hires[j].agent
		}
		return hires[i].outcome < hires[j].outcome
	})
	writeHeader(b, "agentmarket_hires_total", "counter", "Agent hire attempts by outcome.")
	for _, key := range hires {
		fmt.Fprintf(b, "agentmarket_hires_total{agent=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.agent), escape(key.outcome), c.hires[key])
	}

	payments := make([]paymentKey, 0, len(c.payments))
	for key := range c.payments {
		payments = append(payments, key)
	}
	sort.Slice(payments, func(i, j int) bool {
		if payments[i].mode != payments[j].mode {
			return payments[i].mode < payments[j].mode
		}
		return payments[i].outcome < payments[j].outcome
	})
	writeHeader(b, "agentmarket_payments_total", "counter", "Settlement attempts by mode and outcome.")
	for _, key := range payments {
		fmt.Fprintf(b, "agentmarket_payments_total{mode=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.mode), escape(key.outcome), c.payments[key])
	}

	modes := make([]string, 0, len(c.settle))
	for mode := range c.settle {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	writeHeader(b, "agentmarket_settlement_duration_seconds", "histogram", "Time from order creation to confirmation.")
	for _, mode := range modes {
		writeHistogram(b, "agentmarket_settlement_duration_seconds",
			fmt.Sprintf("mode=\"%s\"", escape(mode)), c.settle[mode].snapshot())
	}

	origins := make([]string, 0, len(c.origins))
	for origin := range c.origins {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	writeHeader(b, "agentmarket_agent_source_total", "counter", "Orchestration runs by agent source.")
	for _, origin := range origins {
		fmt.Fprintf(b, "agentmarket_agent_source_total{origin=\"%s\"} %d\n", escape(origin), c.origins[origin])
	}
}
