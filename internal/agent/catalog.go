// Package agent defines the catalog of selectable AI agents.
package agent

import (
	"strings"

	"github.com/gosimple/slug"
)

// Agent describes one entry in the catalog.
type Agent struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Premium      bool     `json:"premium"`
}

// Catalog is the set of agents users can select. Free-tier users may only
// select non-premium agents; premium integrations require a paid plan.
type Catalog struct {
	agents []Agent
	byKey  map[string]Agent
}

// NewCatalog builds the default catalog.
func NewCatalog() *Catalog {
	return newCatalog(defaultAgents)
}

func newCatalog(agents []Agent) *Catalog {
	c := &Catalog{byKey: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		a.Key = NormalizeKey(a.Key)
		if a.Key == "" {
			continue
		}
		if _, exists := c.byKey[a.Key]; exists {
			continue
		}
		c.agents = append(c.agents, a)
		c.byKey[a.Key] = a
	}
	return c
}

// NormalizeKey canonicalizes a user-supplied agent key.
func NormalizeKey(key string) string {
	return slug.Make(strings.TrimSpace(key))
}

// Get returns the agent for key, if it exists.
func (c *Catalog) Get(key string) (Agent, bool) {
	a, ok := c.byKey[NormalizeKey(key)]
	return a, ok
}

// List returns all agents in catalog order.
func (c *Catalog) List() []Agent {
	out := make([]Agent, len(c.agents))
	copy(out, c.agents)
	return out
}

// FreeKeys returns the keys selectable on the free tier.
func (c *Catalog) FreeKeys() []string {
	keys := make([]string, 0, len(c.agents))
	for _, a := range c.agents {
		if !a.Premium {
			keys = append(keys, a.Key)
		}
	}
	return keys
}

// AllKeys returns every catalog key.
func (c *Catalog) AllKeys() []string {
	keys := make([]string, 0, len(c.agents))
	for _, a := range c.agents {
		keys = append(keys, a.Key)
	}
	return keys
}

var defaultAgents = []Agent{
	{
		Key:          "crm",
		Name:         "CRM Agent",
		Description:  "Customer relationship workflows and contact insights",
		Capabilities: []string{"lead_scoring", "contact_enrichment", "pipeline_summary"},
	},
	{
		Key:          "sales",
		Name:         "Sales Agent",
		Description:  "Quotes, orders and sales forecasting",
		Capabilities: []string{"quote_generation", "order_tracking", "sales_forecast"},
	},
	{
		Key:          "finance",
		Name:         "Finance Agent",
		Description:  "Invoicing, expenses and cash-flow analysis",
		Capabilities: []string{"invoice_drafting", "expense_categorization", "cashflow_report"},
	},
	{
		Key:          "hr",
		Name:         "HR Agent",
		Description:  "Employee records, leave and onboarding",
		Capabilities: []string{"leave_management", "onboarding_checklist", "policy_answers"},
	},
	{
		Key:          "inventory",
		Name:         "Inventory Agent",
		Description:  "Stock levels, reordering and warehouse queries",
		Capabilities: []string{"stock_lookup", "reorder_suggestions", "warehouse_summary"},
	},
	{
		Key:          "analytics",
		Name:         "Analytics Agent",
		Description:  "Cross-module reporting and KPI dashboards",
		Capabilities: []string{"kpi_dashboard", "trend_analysis", "custom_reports"},
	},
	{
		Key:          "erpnext",
		Name:         "ERPNext Integration",
		Description:  "Bidirectional sync with an ERPNext deployment",
		Capabilities: []string{"document_sync", "stock_sync", "accounting_sync", "health_check"},
		Premium:      true,
	},
	{
		Key:          "fingpt",
		Name:         "FinGPT Analyst",
		Description:  "Financial sentiment and market analysis",
		Capabilities: []string{"sentiment_analysis", "market_summary", "earnings_digest", "health_check"},
		Premium:      true,
	},
	{
		Key:          "finrobot",
		Name:         "FinRobot Forecaster",
		Description:  "Quantitative forecasting and portfolio reports",
		Capabilities: []string{"price_forecast", "portfolio_report", "risk_metrics", "health_check"},
		Premium:      true,
	},
}
