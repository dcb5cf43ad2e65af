package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/reports"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

const (
	chartWidth  = 800
	chartHeight = 400
)

var chartDayLabels = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// ChartService renders a weekly mood PNG for a report: one bar per local day
// plus the trend arrow. Rendering is optional; without REPORT_CHART_FONT the
// service stays constructed but answers chart_disabled.
type ChartService interface {
	Enabled() bool
	Render(ctx context.Context, report *types.WeeklyReport) ([]byte, error)
}

type chartService struct {
	log         *logger.Logger
	familyRepo  repos.FamilyRepo
	sessionRepo repos.CheckInSessionRepo

	titleFace font.Face
	labelFace font.Face
	valueFace font.Face
}

// NewChartService loads the chart font from REPORT_CHART_FONT. An unset path
// disables rendering; a path that cannot be loaded is a startup error.
func NewChartService(log *logger.Logger, familyRepo repos.FamilyRepo, sessionRepo repos.CheckInSessionRepo) (ChartService, error) {
	serviceLog := log.With("service", "ChartService")
	s := &chartService{log: serviceLog, familyRepo: familyRepo, sessionRepo: sessionRepo}

	fontPath := strings.TrimSpace(os.Getenv("REPORT_CHART_FONT"))
	if fontPath == "" {
		serviceLog.Warn("REPORT_CHART_FONT not set, chart rendering disabled")
		return s, nil
	}
	raw, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("could not read chart font: %w", err)
	}
	parsed, err := truetype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("could not parse chart font: %w", err)
	}
	s.titleFace = chartFace(parsed, 20)
	s.labelFace = chartFace(parsed, 13)
	s.valueFace = chartFace(parsed, 12)
	serviceLog.Info("chart font loaded", "font", fontPath)
	return s, nil
}

func chartFace(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

func (s *chartService) Enabled() bool { return s.titleFace != nil }

func (s *chartService) Render(ctx context.Context, report *types.WeeklyReport) ([]byte, error) {
	const op = "chart.render"
	if !s.Enabled() {
		return nil, aggregates.Errorf(aggregates.CodeUnavailable, op, "chart_disabled")
	}
	if report == nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "report is required")
	}

	fam, err := s.familyRepo.GetByID(dbctx.New(ctx), report.FamilyID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
		}
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	loc := familyLocation(fam.Timezone)

	ws := report.WeekStart.UTC()
	from := time.Date(ws.Year(), ws.Month(), ws.Day(), 0, 0, 0, 0, loc)
	sessions, err := s.sessionRepo.ListCompletedInWindow(dbctx.New(ctx), report.FamilyID, from, from.AddDate(0, 0, 7))
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	png, err := drawWeekChart(report, dailyMeans(ws, loc, sessions), s.titleFace, s.labelFace, s.valueFace)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return png, nil
}

// dailyMeans buckets completed sessions into the seven report days by the
// family-local calendar date they completed on.
func dailyMeans(weekStart time.Time, loc *time.Location, sessions []*types.CheckInSession) [7]*float64 {
	var sums [7]float64
	var counts [7]int
	for _, sess := range sessions {
		if sess.CompletedAt == nil || sess.MoodScore == nil {
			continue
		}
		local := sess.CompletedAt.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		idx := int(day.Sub(weekStart).Hours() / 24)
		if idx < 0 || idx > 6 {
			continue
		}
		sums[idx] += *sess.MoodScore
		counts[idx]++
	}
	var out [7]*float64
	for i := range out {
		if counts[i] > 0 {
			mean := sums[i] / float64(counts[i])
			out[i] = &mean
		}
	}
	return out
}

func drawWeekChart(report *types.WeeklyReport, days [7]*float64, titleFace, labelFace, valueFace font.Face) ([]byte, error) {
	const (
		marginLeft   = 64.0
		marginRight  = 36.0
		marginTop    = 72.0
		marginBottom = 52.0
	)

	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetRGB255(255, 255, 255)
	dc.Clear()

	plotW := float64(chartWidth) - marginLeft - marginRight
	plotH := float64(chartHeight) - marginTop - marginBottom
	baseY := marginTop + plotH

	dc.SetFontFace(titleFace)
	dc.SetRGB255(33, 37, 41)
	title := fmt.Sprintf("Week of %s to %s",
		report.WeekStart.UTC().Format(reports.DateLayout),
		report.WeekEnd.UTC().Format(reports.DateLayout))
	dc.DrawString(title, marginLeft, 38)

	setTrendColor(dc, report.Trend)
	arrowX := float64(chartWidth) - marginRight - 96
	drawTrendArrow(dc, arrowX, 30, report.Trend)
	dc.SetFontFace(labelFace)
	dc.DrawString(report.Trend, arrowX+18, 35)

	// Gridlines with the 0..10 scale.
	dc.SetFontFace(labelFace)
	for score := 0; score <= 10; score += 2 {
		y := baseY - plotH*float64(score)/10
		dc.SetRGB255(222, 226, 230)
		dc.SetLineWidth(1)
		dc.DrawLine(marginLeft, y, marginLeft+plotW, y)
		dc.Stroke()
		dc.SetRGB255(108, 117, 125)
		label := strconv.Itoa(score)
		w, h := dc.MeasureString(label)
		dc.DrawString(label, marginLeft-12-w, y+h/2)
	}

	dc.SetRGB255(73, 80, 87)
	slot := plotW / 7
	for i, name := range chartDayLabels {
		cx := marginLeft + slot*float64(i) + slot/2
		w, _ := dc.MeasureString(name)
		dc.DrawString(name, cx-w/2, baseY+24)
	}

	barW := slot * 0.56
	for i, mean := range days {
		if mean == nil {
			continue
		}
		cx := marginLeft + slot*float64(i) + slot/2
		barH := plotH * (*mean / 10)
		dc.SetRGB255(77, 139, 245)
		dc.DrawRectangle(cx-barW/2, baseY-barH, barW, barH)
		dc.Fill()

		dc.SetFontFace(valueFace)
		dc.SetRGB255(33, 37, 41)
		value := strconv.FormatFloat(*mean, 'f', 1, 64)
		w, _ := dc.MeasureString(value)
		dc.DrawString(value, cx-w/2, baseY-barH-6)
	}

	if report.MeanMood != nil {
		y := baseY - plotH*(*report.MeanMood/10)
		dc.SetDash(5, 5)
		dc.SetRGB255(173, 181, 189)
		dc.SetLineWidth(1.5)
		dc.DrawLine(marginLeft, y, marginLeft+plotW, y)
		dc.Stroke()
		dc.SetDash()
		dc.SetFontFace(valueFace)
		avg := "avg " + strconv.FormatFloat(*report.MeanMood, 'f', 1, 64)
		w, _ := dc.MeasureString(avg)
		dc.DrawString(avg, marginLeft+plotW-w, y-6)
	}

	dc.SetRGB255(73, 80, 87)
	dc.SetLineWidth(1.5)
	dc.DrawLine(marginLeft, baseY, marginLeft+plotW, baseY)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// drawTrendArrow paints a small arrow at (x, y): up for improving, down for
// declining, right for stable.
func drawTrendArrow(dc *gg.Context, x, y float64, trend string) {
	const arm = 9.0
	dc.SetLineWidth(2.5)
	switch trend {
	case reports.TrendImproving:
		dc.DrawLine(x, y+arm, x, y-arm)
		dc.Stroke()
		dc.DrawLine(x-arm*0.6, y-arm*0.35, x, y-arm)
		dc.DrawLine(x+arm*0.6, y-arm*0.35, x, y-arm)
		dc.Stroke()
	case reports.TrendDeclining:
		dc.DrawLine(x, y-arm, x, y+arm)
		dc.Stroke()
		dc.DrawLine(x-arm*0.6, y+arm*0.35, x, y+arm)
		dc.DrawLine(x+arm*0.6, y+arm*0.35, x, y+arm)
		dc.Stroke()
	default:
		dc.DrawLine(x-arm, y, x+arm, y)
		dc.Stroke()
		dc.DrawLine(x+arm*0.35, y-arm*0.6, x+arm, y)
		dc.DrawLine(x+arm*0.35, y+arm*0.6, x+arm, y)
		dc.Stroke()
	}
}

func setTrendColor(dc *gg.Context, trend string) {
	switch trend {
	case reports.TrendImproving:
		dc.SetRGB255(25, 135, 84)
	case reports.TrendDeclining:
		dc.SetRGB255(220, 53, 69)
	default:
		dc.SetRGB255(108, 117, 125)
	}
}
