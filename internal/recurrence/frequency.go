package recurrence

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Rule names reported in ParseResult.Rule.
const (
	RuleKeyword  = "keyword"
	RulePattern  = "pattern"
	RuleCron     = "cron"
	RuleFallback = "fallback"
)

// ParseResult is the outcome of parsing a free-text frequency.
//
// Parsing never fails: input no rule recognizes yields a one day interval with
// Unparsed set so callers can surface it for manual correction.
type ParseResult struct {
	Input    string
	Interval Interval
	Rule     string
	OnDemand bool
	Unparsed bool
}

// Class returns the calendar grouping of the parsed interval.
func (r ParseResult) Class() Class {
	return r.Interval.Class()
}

type frequencyRule struct {
	name  string
	match func(normalized, raw string) (ParseResult, bool)
}

// Parser converts frequency specs into canonical intervals by trying an
// ordered rule table; the first matching rule wins.
type Parser struct {
	rules []frequencyRule
	// cronRef anchors cron interval measurement so results are deterministic.
	cronRef time.Time
}

// NewParser constructs a Parser with the standard rule table.
func NewParser() *Parser {
	p := &Parser{cronRef: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)}
	p.rules = []frequencyRule{
		{name: RuleKeyword, match: matchKeyword},
		{name: RulePattern, match: matchPattern},
		{name: RuleCron, match: p.matchCron},
	}
	return p
}

var defaultParser = NewParser()

// Parse parses spec with the standard rule table.
func Parse(spec string) ParseResult {
	return defaultParser.Parse(spec)
}

// Parse maps spec to a canonical interval. It is pure and total.
func (p *Parser) Parse(spec string) ParseResult {
	raw := strings.TrimSpace(spec)
	normalized := normalize(raw)
	if normalized != "" {
		for _, rule := range p.rules {
			if res, ok := rule.match(normalized, raw); ok {
				res.Input = spec
				res.Rule = rule.name
				return res
			}
		}
	}
	return ParseResult{Input: spec, Interval: EveryDays(1), Rule: RuleFallback, Unparsed: true}
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ", ",", " ", "ё", "е").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

var onDemandKeywords = map[string]struct{}{
	"on demand":     {},
	"as needed":     {},
	"adhoc":         {},
	"ad hoc":        {},
	"по требованию": {},
	"по запросу":    {},

	"по мере необходимости": {},
}

var keywordDays = map[string]int64{
	"daily":         1,
	"day":           1,
	"everyday":      1,
	"every day":     1,
	"each day":      1,
	"nightly":       1,
	"weekly":        7,
	"week":          7,
	"every week":    7,
	"each week":     7,
	"biweekly":      14,
	"fortnightly":   14,
	"monthly":       30,
	"month":         30,
	"every month":   30,
	"each month":    30,
	"quarterly":     90,
	"quarter":       90,
	"every quarter": 90,
	"yearly":        365,
	"annually":      365,
	"annual":        365,
	"year":          365,
	"every year":    365,
	"ежедневно":     1,
	"каждый день":   1,
	"еженедельно":   7,
	"каждую неделю": 7,
	"ежемесячно":    30,
	"каждый месяц":  30,
	"ежеквартально": 90,
	"ежегодно":      365,
	"каждый год":    365,

	"каждый квартал": 90,
}

func matchKeyword(normalized, _ string) (ParseResult, bool) {
	if _, ok := onDemandKeywords[normalized]; ok {
		return ParseResult{Interval: EveryDays(1), OnDemand: true}, true
	}
	if days, ok := keywordDays[normalized]; ok {
		return ParseResult{Interval: EveryDays(days)}, true
	}
	return ParseResult{}, false
}

// unitIntervals maps unit words (English and Russian inflections) to their
// length in days.
var unitIntervals = func() map[string]Interval {
	units := map[string]Interval{}
	add := func(iv Interval, words ...string) {
		for _, w := range words {
			units[w] = iv
		}
	}
	add(NewInterval(1, 24), "hour", "hours", "hr", "hrs", "h", "час", "часа", "часов")
	add(EveryDays(1), "day", "days", "d", "день", "дня", "дней", "сутки", "суток")
	add(EveryDays(7), "week", "weeks", "wk", "w", "неделю", "недели", "недель", "неделя")
	add(EveryDays(30), "month", "months", "mo", "месяц", "месяца", "месяцев")
	add(EveryDays(90), "quarter", "quarters", "квартал", "квартала", "кварталов")
	add(EveryDays(365), "year", "years", "yr", "год", "года", "лет")
	return units
}()

var countWords = map[string]int64{
	"once":   1,
	"twice":  2,
	"thrice": 3,
	"one":    1,
	"two":    2,
	"three":  3,
	"four":   4,
}

var (
	reTimesPer   = regexp.MustCompile(`^(\d+|once|twice|thrice|one|two|three|four)(?:\s*(?:x|times?))?\s+(?:a|an|per|each|every|in a)\s+(\S+)$`)
	reEvery      = regexp.MustCompile(`^(?:every|each)\s+(?:(\d+|other)\s+)?(\S+)$`)
	reBare       = regexp.MustCompile(`^(\d+)\s*([^\d\s]+)$`)
	reRuTimesPer = regexp.MustCompile(`^(?:(\d+)\s+)?раза?\s+в\s+(?:(\d+)\s+)?(\S+)$`)
	reRuEvery    = regexp.MustCompile(`^(?:каждые|каждый|каждую|каждое)\s+(?:(\d+)\s+)?(\S+)$`)
)

func matchPattern(normalized, _ string) (ParseResult, bool) {
	if m := reTimesPer.FindStringSubmatch(normalized); m != nil {
		times, ok := parseCount(m[1])
		unit, known := unitIntervals[m[2]]
		if ok && known {
			return intervalResult(unit.Div(times))
		}
	}
	if m := reEvery.FindStringSubmatch(normalized); m != nil {
		unit, known := unitIntervals[m[2]]
		if known {
			switch m[1] {
			case "":
				return intervalResult(unit)
			case "other":
				return intervalResult(unit.Mul(2))
			default:
				if n, ok := parseCount(m[1]); ok {
					return intervalResult(unit.Mul(n))
				}
			}
		}
	}
	if m := reBare.FindStringSubmatch(normalized); m != nil {
		n, ok := parseCount(m[1])
		unit, known := unitIntervals[m[2]]
		if ok && known {
			return intervalResult(unit.Mul(n))
		}
	}
	if m := reRuTimesPer.FindStringSubmatch(normalized); m != nil {
		unit, known := unitIntervals[m[3]]
		times, okTimes := parseOptionalCount(m[1])
		every, okEvery := parseOptionalCount(m[2])
		if known && okTimes && okEvery {
			return intervalResult(unit.Mul(every).Div(times))
		}
	}
	if m := reRuEvery.FindStringSubmatch(normalized); m != nil {
		unit, known := unitIntervals[m[2]]
		every, ok := parseOptionalCount(m[1])
		if known && ok {
			return intervalResult(unit.Mul(every))
		}
	}
	return ParseResult{}, false
}

func intervalResult(iv Interval) (ParseResult, bool) {
	if iv.IsZero() {
		return ParseResult{}, false
	}
	return ParseResult{Interval: iv}, true
}

// parseCount accepts a positive integer or a count word. Zero is rejected so
// "0 times a day" falls through to the next rule.
func parseCount(s string) (int64, bool) {
	if n, ok := countWords[s]; ok {
		return n, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 || n > 100000 {
		return 0, false
	}
	return n, true
}

func parseOptionalCount(s string) (int64, bool) {
	if s == "" {
		return 1, true
	}
	return parseCount(s)
}

var (
	cronParser  = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	reCronField = regexp.MustCompile(`^[0-9*/,\-?a-z]+$`)
)

func (p *Parser) matchCron(normalized, raw string) (ParseResult, bool) {
	expr := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(expr, "cron:"):
		expr = strings.TrimSpace(expr[len("cron:"):])
	case strings.HasPrefix(expr, "@"):
	case looksLikeCrontab(normalized, expr):
	default:
		return ParseResult{}, false
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return ParseResult{}, false
	}
	gap, ok := typicalGap(schedule, p.cronRef)
	if !ok {
		return ParseResult{}, false
	}
	return intervalResult(cronInterval(gap))
}

const (
	cronSamples  = 512
	minutesInDay = 24 * 60
	// monthMinutes is the mean Gregorian month.
	monthMinutes = 30.436875 * minutesInDay
)

// typicalGap returns the most frequent distance in minutes between
// consecutive activations over one year from ref. Ties go to the shorter gap.
func typicalGap(schedule cron.Schedule, ref time.Time) (int64, bool) {
	horizon := ref.AddDate(1, 0, 0)
	counts := make(map[int64]int)
	prev := schedule.Next(ref)
	if prev.IsZero() {
		return 0, false
	}
	for i := 0; i < cronSamples; i++ {
		next := schedule.Next(prev)
		if next.IsZero() {
			break
		}
		counts[int64(next.Sub(prev)/time.Minute)]++
		if next.After(horizon) {
			break
		}
		prev = next
	}

	var gap int64
	best := 0
	for g, n := range counts {
		if n > best || (n == best && g < gap) {
			gap, best = g, n
		}
	}
	return gap, gap > 0
}

// cronInterval converts an activation gap to an interval. Gaps of four weeks
// or more are counted in whole months and expressed in the same units as the
// keyword table, so "@monthly" and "monthly" agree.
func cronInterval(gap int64) Interval {
	if gap < 28*minutesInDay {
		return NewInterval(gap, minutesInDay)
	}
	months := int64(math.Round(float64(gap) / monthMinutes))
	if months%12 == 0 {
		return EveryDays(365 * months / 12)
	}
	return EveryDays(30 * months)
}

func looksLikeCrontab(normalized, expr string) bool {
	fields := strings.Fields(expr)
	if len(fields) != 5 || normalized == "" {
		return false
	}
	for _, f := range fields {
		if !reCronField.MatchString(f) {
			return false
		}
	}
	return strings.ContainsAny(expr, "0123456789*")
}
