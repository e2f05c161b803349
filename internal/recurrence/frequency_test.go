package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_KnownSpecs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		spec string
		want Interval
		rule string
	}{
		{spec: "DAILY", want: EveryDays(1), rule: RuleKeyword},
		{spec: "weekly", want: EveryDays(7), rule: RuleKeyword},
		{spec: "Monthly", want: EveryDays(30), rule: RuleKeyword},
		{spec: "QUARTERLY", want: EveryDays(90), rule: RuleKeyword},
		{spec: "annually", want: EveryDays(365), rule: RuleKeyword},
		{spec: "Ежедневно", want: EveryDays(1), rule: RuleKeyword},
		{spec: "ежемесячно", want: EveryDays(30), rule: RuleKeyword},
		{spec: "twice a day", want: NewInterval(1, 2), rule: RulePattern},
		{spec: "3 times per week", want: NewInterval(7, 3), rule: RulePattern},
		{spec: "3x per week", want: NewInterval(7, 3), rule: RulePattern},
		{spec: "once a month", want: EveryDays(30), rule: RulePattern},
		{spec: "every 2 weeks", want: EveryDays(14), rule: RulePattern},
		{spec: "every other day", want: EveryDays(2), rule: RulePattern},
		{spec: "Every 12 hours", want: NewInterval(1, 2), rule: RulePattern},
		{spec: "3 days", want: EveryDays(3), rule: RulePattern},
		{spec: "14d", want: EveryDays(14), rule: RulePattern},
		{spec: "2 раза в неделю", want: NewInterval(7, 2), rule: RulePattern},
		{spec: "раз в 2 недели", want: EveryDays(14), rule: RulePattern},
		{spec: "раз в месяц", want: EveryDays(30), rule: RulePattern},
		{spec: "каждые 3 дня", want: EveryDays(3), rule: RulePattern},
		{spec: "cron: 0 9 * * *", want: EveryDays(1), rule: RuleCron},
		{spec: "0 */6 * * *", want: NewInterval(1, 4), rule: RuleCron},
		{spec: "@weekly", want: EveryDays(7), rule: RuleCron},
		{spec: "@every 48h", want: EveryDays(2), rule: RuleCron},
		{spec: "@monthly", want: EveryDays(30), rule: RuleCron},
		{spec: "0 0 1 * *", want: EveryDays(30), rule: RuleCron},
		{spec: "0 0 1 */3 *", want: EveryDays(90), rule: RuleCron},
		{spec: "0 0 1 1,7 *", want: EveryDays(180), rule: RuleCron},
		{spec: "@yearly", want: EveryDays(365), rule: RuleCron},
		{spec: "0 9 * * 1-5", want: EveryDays(1), rule: RuleCron},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.spec, func(t *testing.T) {
			t.Parallel()

			res := Parse(tc.spec)
			assert.Equal(t, tc.want, res.Interval)
			assert.Equal(t, tc.rule, res.Rule)
			assert.False(t, res.Unparsed)
			assert.False(t, res.OnDemand)
		})
	}
}

func TestParse_CronAgreesWithKeywords(t *testing.T) {
	t.Parallel()

	pairs := map[string]string{
		"@daily":      "daily",
		"@weekly":     "weekly",
		"@monthly":    "monthly",
		"0 6 1 * *":   "monthly",
		"0 0 1 */3 *": "quarterly",
		"@annually":   "annually",
	}
	for expr, keyword := range pairs {
		assert.Equal(t, Parse(keyword).Interval, Parse(expr).Interval, "%s vs %s", expr, keyword)
	}

	// the measurement does not depend on where the reference date falls
	for _, month := range []time.Month{time.January, time.February, time.March, time.August, time.November} {
		p := NewParser()
		p.cronRef = time.Date(2023, month, 17, 13, 0, 0, 0, time.UTC)
		assert.Equal(t, EveryDays(30), p.Parse("0 0 1 * *").Interval, "reference in %s", month)
		assert.Equal(t, EveryDays(90), p.Parse("0 0 1 */3 *").Interval, "reference in %s", month)
	}
}

func TestParse_OnDemand(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"ON_DEMAND", "on demand", "по требованию"} {
		res := Parse(spec)
		assert.True(t, res.OnDemand, spec)
		assert.False(t, res.Unparsed, spec)
		assert.Equal(t, EveryDays(1), res.Interval, spec)
	}
}

func TestParse_UnparsedFallsBackToOneDay(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"", "   ", "whenever the boss says", "0 times a day", "every 0 days", "every blue moon", "* * *"} {
		res := Parse(spec)
		assert.True(t, res.Unparsed, "spec %q", spec)
		assert.Equal(t, RuleFallback, res.Rule, "spec %q", spec)
		assert.Equal(t, EveryDays(1), res.Interval, "spec %q", spec)
	}
}

func TestParse_TotalAndIdempotent(t *testing.T) {
	t.Parallel()

	specs := []string{"daily", "twice a day", "every 3 weeks", "раз в квартал", "@monthly", "garbage", "5 5 5 5 5"}
	for _, spec := range specs {
		first := Parse(spec)
		second := Parse(spec)
		require.Equal(t, first, second, "spec %q", spec)
		assert.False(t, first.Interval.IsZero(), "spec %q", spec)
		assert.Greater(t, first.Interval.Days(), 0.0, "spec %q", spec)
	}
}

func TestInterval_ClassAndStep(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ClassSubDaily, NewInterval(1, 2).Class())
	assert.Equal(t, 1, NewInterval(1, 2).StepDays())
	assert.Equal(t, ClassDaily, EveryDays(3).Class())
	assert.Equal(t, ClassWeekly, EveryDays(7).Class())
	assert.Equal(t, ClassWeekly, EveryDays(14).Class())
	assert.Equal(t, ClassMonthly, EveryDays(30).Class())
	assert.Equal(t, ClassMonthly, EveryDays(365).Class())
	assert.Equal(t, 2, NewInterval(7, 3).StepDays())
	assert.Equal(t, "7/3", NewInterval(14, 6).String())
	assert.True(t, NewInterval(1, 2).MatchesCache(0.5))
	assert.False(t, EveryDays(7).MatchesCache(30))
}
