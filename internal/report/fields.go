package report

// IdentifierTiers lists the fields that can carry the click identifier, best first.
// A lower tier always wins; inside one tier the first field in row order wins.
var IdentifierTiers = [][]string{
	{"dynamic_tag_visit_id", "dynamic_tag_sub_id", "dynamic_tag_click_id", "dynamic_tag_subid", "dynamic_tag_web_id", "dynamic_tag_webid"},
	{"visit_id", "sub_id", "clickid"},
	{"campaign_id", "campaign"},
	{"player_id", "player"},
}

// CampaignFields are also kept verbatim as the campaign attribute.
var CampaignFields = []string{"campaign_id", "campaign"}

// Metric names a canonical FlatRecord metric.
type Metric string

const (
	MetricFTD    Metric = "ftd"
	MetricDepCnt Metric = "dep_cnt"
	MetricDepSum Metric = "dep_sum"
	MetricNGR    Metric = "ngr"
	MetricCPA    Metric = "cpa"
)

type metricField struct {
	metric Metric
	amount bool // may arrive as a nested amount object
}

// MetricFields maps report column names onto canonical metrics.
var MetricFields = map[string]metricField{
	"first_deposits_count": {metric: MetricFTD},
	"deposits_count":       {metric: MetricDepCnt},
	"deposits_sum":         {metric: MetricDepSum, amount: true},
	"ngr":                  {metric: MetricNGR, amount: true},
	"partner_income":       {metric: MetricCPA, amount: true},
	"clean_net_revenue":    {metric: MetricCPA, amount: true},
}

// AmountKeys are probed in order inside a nested amount object.
var AmountKeys = []string{"amount", "amount_cents", "value"}

const dateField = "date"

var identifierTier = func() map[string]int {
	m := make(map[string]int)
	for tier, names := range IdentifierTiers {
		for _, n := range names {
			m[n] = tier
		}
	}
	return m
}()

func isCampaignField(name string) bool {
	for _, n := range CampaignFields {
		if n == name {
			return true
		}
	}
	return false
}
