package service

import (
	"context"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/domain"
)

// minTrendPoints is the minimum history length for trend inference.
// Fewer points is a valid "insufficient data" outcome, not an error.
const minTrendPoints = 3

// TrendDetectorService infers trends from one parameter's ordered history:
// moving-average smoothing, least-squares slope over ordinal days, a t-test
// on the slope, and a clinical-threshold table for significance.
type TrendDetectorService struct {
	cfg   config.TrendConfig
	cache *lru.Cache[string, domain.Trend]
	log   *logrus.Logger
}

// NewTrendDetectorService creates a new trend detector. cacheSize <= 0
// disables result caching.
func NewTrendDetectorService(cfg config.TrendConfig, cacheSize int, logger *logrus.Logger) (*TrendDetectorService, error) {
	if cfg.SmoothingWindow < 1 {
		cfg.SmoothingWindow = 3
	}
	if cfg.PValueThreshold <= 0 {
		cfg.PValueThreshold = 0.05
	}
	if cfg.RapidChangeWindowDays <= 0 {
		cfg.RapidChangeWindowDays = 90
	}
	if cfg.RapidChangeFraction <= 0 {
		cfg.RapidChangeFraction = 0.20
	}
	if cfg.ResidualCapSigma <= 0 {
		cfg.ResidualCapSigma = 2.5
	}

	var cache *lru.Cache[string, domain.Trend]
	if cacheSize > 0 {
		var err error
		cache, err = lru.New[string, domain.Trend](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating trend cache: %w", err)
		}
	}

	return &TrendDetectorService{
		cfg:   cfg,
		cache: cache,
		log:   logger,
	}, nil
}

// DetectCached runs Detect with memoization keyed by (user, parameter,
// timeline version). A version bump naturally invalidates stale entries.
func (t *TrendDetectorService) DetectCached(ctx context.Context, userID string, version int64, parameter string, points []domain.DataPoint) (*domain.Trend, error) {
	if t.cache == nil {
		return t.Detect(ctx, parameter, points)
	}

	key := fmt.Sprintf("%s|%s|%d", userID, parameter, version)
	if cached, ok := t.cache.Get(key); ok {
		trend := cached
		return &trend, nil
	}

	trend, err := t.Detect(ctx, parameter, points)
	if err != nil {
		return nil, err
	}
	t.cache.Add(key, *trend)
	return trend, nil
}

// Detect infers the trend for one parameter. Points must be ordered
// ascending by date (the timeline store guarantees this).
func (t *TrendDetectorService) Detect(ctx context.Context, parameter string, points []domain.DataPoint) (*domain.Trend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(points) < minTrendPoints {
		return &domain.Trend{
			Parameter:        parameter,
			Direction:        domain.STABLE,
			Significance:     domain.LOW_SIGNIFICANCE,
			DataPoints:       points,
			InsufficientData: true,
			Note:             "not enough history for trend analysis yet",
		}, nil
	}

	for _, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return nil, &domain.CalculationFailureError{
				Stage:  "trend",
				Reason: fmt.Sprintf("non-finite value for %s on %s", parameter, p.Date.Format("2006-01-02")),
			}
		}
	}

	days := make([]float64, len(points))
	values := make([]float64, len(points))
	origin := points[0].Date
	for i, p := range points {
		days[i] = p.Date.Sub(origin).Hours() / 24
		values[i] = p.Value
	}

	smoothed := movingAverage(values, t.cfg.SmoothingWindow)

	// All values identical: stable by definition, confidence from point count.
	if sampleVariance(smoothed) == 0 && sampleVariance(values) == 0 {
		return &domain.Trend{
			Parameter:    parameter,
			Direction:    domain.STABLE,
			RateOfChange: 0,
			Significance: domain.LOW_SIGNIFICANCE,
			Confidence:   pointCountFactor(len(points)),
			PValue:       1,
			DataPoints:   points,
		}, nil
	}

	fit := fitLine(days, smoothed)

	// Cap high-leverage residuals and refit so a single extreme point
	// cannot flip the direction on its own.
	if capped, changed := capResiduals(days, smoothed, fit, t.cfg.ResidualCapSigma); changed {
		fit = fitLine(days, capped)
		smoothed = capped
	}

	pValue := slopePValue(days, smoothed, fit)
	significant := pValue < t.cfg.PValueThreshold

	direction := domain.STABLE
	if significant {
		if fit.slope > 0 {
			direction = domain.INCREASING
		} else if fit.slope < 0 {
			direction = domain.DECREASING
		}
	}

	significance := t.classifySignificance(parameter, fit.slope)
	note := ""
	if rapidChange(points, t.cfg.RapidChangeWindowDays, t.cfg.RapidChangeFraction) {
		significance = domain.HIGH_SIGNIFICANCE
		note = "rapid change detected within a three month window"
	}

	trend := &domain.Trend{
		Parameter:    parameter,
		Direction:    direction,
		RateOfChange: fit.slope,
		Significance: significance,
		Confidence:   confidence(len(points), days, smoothed, fit),
		PValue:       pValue,
		DataPoints:   points,
		Note:         note,
	}

	t.log.WithFields(logrus.Fields{
		"parameter":    parameter,
		"direction":    trend.Direction.String(),
		"rate":         trend.RateOfChange,
		"significance": trend.Significance.String(),
		"confidence":   trend.Confidence,
		"p_value":      trend.PValue,
		"points":       len(points),
	}).Debug("Trend detected")

	return trend, nil
}

// classifySignificance applies the clinical-threshold table to the rate of
// change magnitude, falling back to the default thresholds.
func (t *TrendDetectorService) classifySignificance(parameter string, slope float64) domain.Significance {
	threshold, ok := t.cfg.Thresholds[parameter]
	if !ok {
		threshold = t.cfg.DefaultThreshold
	}

	magnitude := math.Abs(slope)
	switch {
	case threshold.High > 0 && magnitude >= threshold.High:
		return domain.HIGH_SIGNIFICANCE
	case threshold.Moderate > 0 && magnitude >= threshold.Moderate:
		return domain.MODERATE_SIGNIFICANCE
	default:
		return domain.LOW_SIGNIFICANCE
	}
}

// lineFit holds a least-squares line
type lineFit struct {
	slope     float64
	intercept float64
}

// movingAverage applies a trailing moving average of the given window
func movingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		sum := 0.0
		for j := start; j <= i; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(i-start+1)
	}
	return out
}

// fitLine computes the ordinary least-squares line of y over x
func fitLine(x, y []float64) lineFit {
	n := float64(len(x))
	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / n
	meanY := sumY / n

	var sxx, sxy float64
	for i := range x {
		dx := x[i] - meanX
		sxx += dx * dx
		sxy += dx * (y[i] - meanY)
	}
	if sxx == 0 {
		return lineFit{slope: 0, intercept: meanY}
	}
	slope := sxy / sxx
	return lineFit{slope: slope, intercept: meanY - slope*meanX}
}

// capResiduals bounds the leverage of extreme points: any value whose
// residual exceeds capSigma standard deviations is pulled back to the cap.
// Returns the (possibly new) series and whether anything changed.
func capResiduals(x, y []float64, fit lineFit, capSigma float64) ([]float64, bool) {
	n := len(y)
	if n < 4 {
		return y, false
	}

	residuals := make([]float64, n)
	var sumSq float64
	for i := range y {
		residuals[i] = y[i] - (fit.intercept + fit.slope*x[i])
		sumSq += residuals[i] * residuals[i]
	}
	sigma := math.Sqrt(sumSq / float64(n))
	if sigma == 0 {
		return y, false
	}

	limit := capSigma * sigma
	capped := make([]float64, n)
	changed := false
	for i := range y {
		if math.Abs(residuals[i]) > limit {
			sign := 1.0
			if residuals[i] < 0 {
				sign = -1.0
			}
			capped[i] = fit.intercept + fit.slope*x[i] + sign*limit
			changed = true
		} else {
			capped[i] = y[i]
		}
	}
	return capped, changed
}

// slopePValue computes the two-tailed p-value of the regression slope
// under the null hypothesis of zero slope (standard t-test, df = n-2).
func slopePValue(x, y []float64, fit lineFit) float64 {
	n := len(x)
	df := n - 2
	if df < 1 {
		return 1
	}

	var sse, sxx float64
	var sumX float64
	for i := range x {
		sumX += x[i]
	}
	meanX := sumX / float64(n)
	for i := range x {
		residual := y[i] - (fit.intercept + fit.slope*x[i])
		sse += residual * residual
		dx := x[i] - meanX
		sxx += dx * dx
	}

	if sxx == 0 {
		return 1
	}
	if sse == 0 {
		// Perfect fit: a nonzero slope is unambiguous.
		if fit.slope == 0 {
			return 1
		}
		return 0
	}

	se := math.Sqrt((sse / float64(df)) / sxx)
	tStat := math.Abs(fit.slope / se)
	return studentTPValue(tStat, float64(df))
}

// studentTPValue returns the two-tailed p-value for a t statistic via the
// regularized incomplete beta function.
func studentTPValue(t, df float64) float64 {
	x := df / (df + t*t)
	return regIncompleteBeta(df/2, 0.5, x)
}

// regIncompleteBeta computes the regularized incomplete beta function
// I_x(a, b) using the continued fraction expansion.
func regIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lnBeta := lgamma(a+b) - lgamma(a) - lgamma(b)
	front := math.Exp(lnBeta+a*math.Log(x)+b*math.Log(1-x)) / a

	if x > (a+1)/(a+b+2) {
		return 1 - regIncompleteBeta(b, a, 1-x)
	}

	// Lentz's algorithm for the continued fraction
	const epsilon = 1e-12
	f, c, d := 1.0, 1.0, 0.0
	for i := 0; i <= 200; i++ {
		m := i / 2
		var numerator float64
		if i == 0 {
			numerator = 1.0
		} else if i%2 == 0 {
			numerator = (float64(m) * (b - float64(m)) * x) / ((a + 2*float64(m) - 1) * (a + 2*float64(m)))
		} else {
			numerator = -((a + float64(m)) * (a + b + float64(m)) * x) / ((a + 2*float64(m)) * (a + 2*float64(m) + 1))
		}

		d = 1 + numerator*d
		if math.Abs(d) < 1e-30 {
			d = 1e-30
		}
		d = 1 / d

		c = 1 + numerator/c
		if math.Abs(c) < 1e-30 {
			c = 1e-30
		}

		f *= c * d
		if math.Abs(1-c*d) < epsilon {
			break
		}
	}
	return front * (f - 1)
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// rapidChange reports whether any pair of points within the rolling window
// shows a relative change above the threshold fraction.
func rapidChange(points []domain.DataPoint, windowDays int, fraction float64) bool {
	for i := 0; i < len(points); i++ {
		base := points[i].Value
		if base == 0 {
			continue
		}
		for j := i + 1; j < len(points); j++ {
			gap := points[j].Date.Sub(points[i].Date).Hours() / 24
			if gap > float64(windowDays) {
				break
			}
			if math.Abs(points[j].Value-base)/math.Abs(base) > fraction {
				return true
			}
		}
	}
	return false
}

// confidence maps point count and residual variance to [0,1]: more points
// and lower residual variance raise confidence.
func confidence(pointCount int, x, y []float64, fit lineFit) float64 {
	var sse float64
	for i := range x {
		residual := y[i] - (fit.intercept + fit.slope*x[i])
		sse += residual * residual
	}
	residualStd := math.Sqrt(sse / float64(len(x)))

	var sumY float64
	for _, v := range y {
		sumY += v
	}
	scale := math.Abs(sumY / float64(len(y)))
	if scale < 1e-9 {
		scale = 1e-9
	}

	relative := residualStd / scale
	if relative > 1 {
		relative = 1
	}

	c := pointCountFactor(pointCount) * (1 - relative)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// pointCountFactor grows toward 1 as the history lengthens
func pointCountFactor(n int) float64 {
	return float64(n) / float64(n+1)
}

// sampleVariance returns the variance of the series
func sampleVariance(values []float64) float64 {
	n := float64(len(values))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return sq / n
}
