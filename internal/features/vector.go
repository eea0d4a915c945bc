// Package features defines the canonical trading-signal feature vector and
// its normalization for ML model input.
//
// The feature order is a cross-system contract: every producer of feature
// records must agree on the 34-element order defined here. The Vector type
// is a fixed-size array so the contract is enforced by the type system
// rather than by convention.
package features

// Count is the number of features in the canonical vector.
const Count = 34

// Vector is a feature vector in canonical order.
type Vector [Count]float64

// Canonical feature indices. The order must never change; persisted models
// and upstream feature extractors both depend on it.
const (
	IdxPriceChange24h = iota
	IdxPriceChange1h
	IdxPriceChange15m
	IdxPriceChange5m
	IdxHighLowRange
	IdxPricePosition
	IdxVolumeQuote24h
	IdxVolumeMultiplier
	IdxVolumeChange1h
	IdxVelocity
	IdxAcceleration
	IdxTrendState
	IdxRSI1h
	IdxMTFAlignment
	IdxDivergenceType
	IdxFundingRate
	IdxFundingSignal
	IdxFundingDirectionMatch
	IdxOIChangePercent
	IdxOISignal
	IdxOIPriceAlignment
	IdxPatternType
	IdxPatternConfidence
	IdxDistanceFromLevel
	IdxSmartConfidence
	IdxComponentCount
	IdxEntryType
	IdxRiskLevel
	IdxATRPercent
	IdxVWAPDistance
	IdxRiskRewardRatio
	IdxWhaleActivity
	IdxBTCCorrelation
	IdxBTCOutperformance
)

var names = [Count]string{
	"price_change_24h",
	"price_change_1h",
	"price_change_15m",
	"price_change_5m",
	"high_low_range",
	"price_position",
	"volume_quote_24h",
	"volume_multiplier",
	"volume_change_1h",
	"velocity",
	"acceleration",
	"trend_state",
	"rsi_1h",
	"mtf_alignment",
	"divergence_type",
	"funding_rate",
	"funding_signal",
	"funding_direction_match",
	"oi_change_percent",
	"oi_signal",
	"oi_price_alignment",
	"pattern_type",
	"pattern_confidence",
	"distance_from_level",
	"smart_confidence",
	"component_count",
	"entry_type",
	"risk_level",
	"atr_percent",
	"vwap_distance",
	"risk_reward_ratio",
	"whale_activity",
	"btc_correlation",
	"btc_outperformance",
}

// defaults holds the value substituted for each feature when a record omits it.
var defaults = Vector{
	IdxPricePosition:    0.5,
	IdxVolumeMultiplier: 1,
	IdxRSI1h:            50,
	IdxRiskLevel:        1,
	IdxRiskRewardRatio:  1.5,
}

// Names returns the canonical feature names in vector order.
func Names() []string {
	out := make([]string, Count)
	copy(out, names[:])
	return out
}

// Name returns the canonical name of the feature at index i.
func Name(i int) string { return names[i] }

// Index returns the vector position of the named feature, or -1 if the name
// is not part of the canonical set.
func Index(name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// Default returns the documented default value for the feature at index i.
func Default(i int) float64 { return defaults[i] }

// Record is a named-field feature record as received over the wire. Pointer
// fields distinguish an omitted feature (default applies) from an explicit
// zero. SignalID and Symbol are carried through to prediction output
// unchanged for correlation.
type Record struct {
	SignalID string `json:"signal_id"`
	Symbol   string `json:"symbol,omitempty"`

	PriceChange24h        *float64 `json:"price_change_24h,omitempty"`
	PriceChange1h         *float64 `json:"price_change_1h,omitempty"`
	PriceChange15m        *float64 `json:"price_change_15m,omitempty"`
	PriceChange5m         *float64 `json:"price_change_5m,omitempty"`
	HighLowRange          *float64 `json:"high_low_range,omitempty"`
	PricePosition         *float64 `json:"price_position,omitempty"`
	VolumeQuote24h        *float64 `json:"volume_quote_24h,omitempty"`
	VolumeMultiplier      *float64 `json:"volume_multiplier,omitempty"`
	VolumeChange1h        *float64 `json:"volume_change_1h,omitempty"`
	Velocity              *float64 `json:"velocity,omitempty"`
	Acceleration          *float64 `json:"acceleration,omitempty"`
	TrendState            *float64 `json:"trend_state,omitempty"`
	RSI1h                 *float64 `json:"rsi_1h,omitempty"`
	MTFAlignment          *float64 `json:"mtf_alignment,omitempty"`
	DivergenceType        *float64 `json:"divergence_type,omitempty"`
	FundingRate           *float64 `json:"funding_rate,omitempty"`
	FundingSignal         *float64 `json:"funding_signal,omitempty"`
	FundingDirectionMatch *float64 `json:"funding_direction_match,omitempty"`
	OIChangePercent       *float64 `json:"oi_change_percent,omitempty"`
	OISignal              *float64 `json:"oi_signal,omitempty"`
	OIPriceAlignment      *float64 `json:"oi_price_alignment,omitempty"`
	PatternType           *float64 `json:"pattern_type,omitempty"`
	PatternConfidence     *float64 `json:"pattern_confidence,omitempty"`
	DistanceFromLevel     *float64 `json:"distance_from_level,omitempty"`
	SmartConfidence       *float64 `json:"smart_confidence,omitempty"`
	ComponentCount        *float64 `json:"component_count,omitempty"`
	EntryType             *float64 `json:"entry_type,omitempty"`
	RiskLevel             *float64 `json:"risk_level,omitempty"`
	ATRPercent            *float64 `json:"atr_percent,omitempty"`
	VWAPDistance          *float64 `json:"vwap_distance,omitempty"`
	RiskRewardRatio       *float64 `json:"risk_reward_ratio,omitempty"`
	WhaleActivity         *float64 `json:"whale_activity,omitempty"`
	BTCCorrelation        *float64 `json:"btc_correlation,omitempty"`
	BTCOutperformance     *float64 `json:"btc_outperformance,omitempty"`
}

// Vector converts the record to a canonical-order vector, substituting the
// documented default for each omitted field.
func (r *Record) Vector() Vector {
	fields := [Count]*float64{
		r.PriceChange24h, r.PriceChange1h, r.PriceChange15m, r.PriceChange5m,
		r.HighLowRange, r.PricePosition, r.VolumeQuote24h, r.VolumeMultiplier,
		r.VolumeChange1h, r.Velocity, r.Acceleration, r.TrendState,
		r.RSI1h, r.MTFAlignment, r.DivergenceType, r.FundingRate,
		r.FundingSignal, r.FundingDirectionMatch, r.OIChangePercent, r.OISignal,
		r.OIPriceAlignment, r.PatternType, r.PatternConfidence, r.DistanceFromLevel,
		r.SmartConfidence, r.ComponentCount, r.EntryType, r.RiskLevel,
		r.ATRPercent, r.VWAPDistance, r.RiskRewardRatio, r.WhaleActivity,
		r.BTCCorrelation, r.BTCOutperformance,
	}

	v := defaults
	for i, f := range fields {
		if f != nil {
			v[i] = *f
		}
	}
	return v
}

// FromMap builds a vector from a name/value map, substituting defaults for
// missing names. Unknown names are ignored; CSV ingestion validates column
// presence separately.
func FromMap(m map[string]float64) Vector {
	v := defaults
	for i, n := range names {
		if val, ok := m[n]; ok {
			v[i] = val
		}
	}
	return v
}
