package strategy

import "fmt"

// BuildOptions carries the resolved per-instance tuning needed to
// construct a Strategy from configuration.
type BuildOptions struct {
	HTFInterval  string
	ExecInterval string

	TrendStrengthMin     float64
	ATRStopMult          float64
	CooldownAfterStop    int
	RSILongLo            float64
	RSILongHi            float64
	RSIShortLo           float64
	RSIShortHi           float64
	RSISlopeRequired     bool
	MaxPositionNotional  float64
	MaxPositionPctEquity float64
	Leverage             int
	SwingLookback        int

	EMAFast    int
	EMASlow    int
	RSILength  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	ATRLength  int
}

// Build constructs a Strategy of the given type, or an error if the
// type is unrecognized.
func Build(id, strategyType string, opt BuildOptions) (Strategy, error) {
	switch strategyType {
	case "trendpullback", "":
		req := Requirements{
			Intervals:     []string{opt.HTFInterval, opt.ExecInterval},
			EMAFast:       opt.EMAFast,
			EMASlow:       opt.EMASlow,
			RSILength:     opt.RSILength,
			MACDFast:      opt.MACDFast,
			MACDSlow:      opt.MACDSlow,
			MACDSignal:    opt.MACDSignal,
			ATRLength:     opt.ATRLength,
			SwingLookback: opt.SwingLookback,
		}
		return NewTrendPullback(id, TrendPullbackConfig{
			HTFInterval:          opt.HTFInterval,
			ExecInterval:         opt.ExecInterval,
			TrendStrengthMin:     opt.TrendStrengthMin,
			ATRStopMult:          opt.ATRStopMult,
			CooldownAfterStop:    opt.CooldownAfterStop,
			RSILongLo:            opt.RSILongLo,
			RSILongHi:            opt.RSILongHi,
			RSIShortLo:           opt.RSIShortLo,
			RSIShortHi:           opt.RSIShortHi,
			RSISlopeRequired:     opt.RSISlopeRequired,
			MaxPositionNotional:  opt.MaxPositionNotional,
			MaxPositionPctEquity: opt.MaxPositionPctEquity,
			Leverage:             opt.Leverage,
			SwingLookback:        opt.SwingLookback,
			Requirements:         req,
		}), nil
	case "macross":
		req := Requirements{
			Intervals:  []string{opt.ExecInterval},
			EMAFast:    opt.EMAFast,
			EMASlow:    opt.EMASlow,
			RSILength:  opt.RSILength,
			MACDFast:   opt.MACDFast,
			MACDSlow:   opt.MACDSlow,
			MACDSignal: opt.MACDSignal,
			ATRLength:  opt.ATRLength,
		}
		return NewMACross(id, MACrossConfig{
			Interval:             opt.ExecInterval,
			ATRStopMult:          opt.ATRStopMult,
			MaxPositionNotional:  opt.MaxPositionNotional,
			MaxPositionPctEquity: opt.MaxPositionPctEquity,
			Leverage:             opt.Leverage,
			Requirements:         req,
		}), nil
	default:
		return nil, fmt.Errorf("strategy: unknown type %q", strategyType)
	}
}
