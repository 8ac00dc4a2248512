package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aevon-lab/geoagg/internal/core/aggregation"
	coreerrors "github.com/aevon-lab/geoagg/internal/core/errors"
	"github.com/aevon-lab/geoagg/internal/core/storage"
	"github.com/aevon-lab/geoagg/internal/core/table"
	"github.com/aevon-lab/geoagg/internal/export"
	"github.com/aevon-lab/geoagg/internal/metrics"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func twoRegions(t *testing.T) *table.BoundaryTable {
	t.Helper()
	tbl, err := table.NewBoundaryTable([]table.Boundary{
		{ID: 1, Country: "CAF", Region: "A", Geometry: square(0, 0, 10, 10)},
		{ID: 2, Country: "CAF", Region: "B", Geometry: square(10, 0, 20, 10)},
	})
	require.NoError(t, err)
	return tbl
}

func pointLayer(name string, pts ...orb.Point) *table.FeatureLayer {
	l := &table.FeatureLayer{Name: name, Fields: []string{"fclass"}}
	for _, p := range pts {
		l.Features = append(l.Features, table.Feature{Geometry: p, Properties: map[string]interface{}{"fclass": "food"}})
	}
	return l
}

// fakeLoader serves fixed layers per year.
type fakeLoader struct {
	boundaries  *table.BoundaryTable
	boundaryErr error
	layers      map[int]map[string]*table.FeatureLayer
	errs        map[int]error
	requested   []int
}

func (f *fakeLoader) LoadBoundaries(ctx context.Context, path string) (*table.BoundaryTable, error) {
	if f.boundaryErr != nil {
		return nil, f.boundaryErr
	}
	return f.boundaries.Clone(), nil
}

func (f *fakeLoader) LoadFeatureLayers(ctx context.Context, year int) (map[string]*table.FeatureLayer, error) {
	f.requested = append(f.requested, year)
	if err := f.errs[year]; err != nil {
		return nil, err
	}
	return f.layers[year], nil
}

// recordingExporter keeps the columns and values it was asked to write.
type recordingExporter struct {
	columns map[int][]string
	values  map[int]map[string][]decimal.Decimal
	err     error
}

func newRecordingExporter() *recordingExporter {
	return &recordingExporter{
		columns: make(map[int][]string),
		values:  make(map[int]map[string][]decimal.Decimal),
	}
}

func (e *recordingExporter) Export(year int, t *table.BoundaryTable) (export.Artifacts, error) {
	if e.err != nil {
		return export.Artifacts{}, e.err
	}
	e.columns[year] = t.Columns()
	e.values[year] = make(map[string][]decimal.Decimal)
	for _, c := range t.Columns() {
		e.values[year][c], _ = t.Column(c)
	}
	return export.Artifacts{GeoJSON: fmt.Sprintf("%d.geojson", year), CSV: fmt.Sprintf("%d.csv", year)}, nil
}

type fakeStore struct {
	saved []storage.YearMetrics
	err   error
}

func (s *fakeStore) SaveYear(ctx context.Context, m storage.YearMetrics) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, m)
	return nil
}

func (s *fakeStore) LoadYear(ctx context.Context, year int) ([]storage.MetricRow, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

// spyRecorder counts recorder calls.
type spyRecorder struct {
	mu       sync.Mutex
	stages   map[string]metrics.ResultLabel
	outcomes map[string]int
	features map[string]int
	runs     int
}

func newSpyRecorder() *spyRecorder {
	return &spyRecorder{
		stages:   make(map[string]metrics.ResultLabel),
		outcomes: make(map[string]int),
		features: make(map[string]int),
	}
}

func (s *spyRecorder) ObserveStageDuration(string, time.Duration) {}

func (s *spyRecorder) IncStageResult(stage string, result metrics.ResultLabel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[stage] = result
}

func (s *spyRecorder) AddFeatures(kind string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[kind] += n
}

func (s *spyRecorder) IncYearOutcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome]++
}

func (s *spyRecorder) ObserveRunDuration(time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
}

func TestRun_ResetsTableBetweenYears(t *testing.T) {
	loader := &fakeLoader{
		boundaries: twoRegions(t),
		layers: map[int]map[string]*table.FeatureLayer{
			2018: {"shops": pointLayer("shops", orb.Point{1, 1}, orb.Point{15, 5})},
			2019: {"banks": pointLayer("banks", orb.Point{2, 2})},
		},
	}
	exp := newRecordingExporter()
	runner := NewRunner(Deps{Loader: loader, Exporter: exp}, Options{ContinueOnError: true})

	summary, err := runner.Run(context.Background(), []int{2018, 2019})
	require.NoError(t, err)
	require.Len(t, summary.Years, 2)

	assert.Equal(t, []string{"shops_count"}, exp.columns[2018])
	assert.Equal(t, []string{"banks_count"}, exp.columns[2019], "no columns carried over from 2018")
	assert.Equal(t, "1", exp.values[2019]["banks_count"][0].String())
	assert.Equal(t, "0", exp.values[2019]["banks_count"][1].String())

	for _, y := range summary.Years {
		assert.Equal(t, StatusOK, y.Status)
		assert.Empty(t, y.Stage)
	}
	assert.Equal(t, []string{"banks_count"}, summary.Years[1].Columns)
	assert.NotEmpty(t, summary.RunID)
}

func TestRun_ReportsFailedStageAndContinues(t *testing.T) {
	loadErr := &coreerrors.LoadError{
		Stage: coreerrors.StageLoadFeatures,
		Path:  "POI/2019/gis_osm_roads_free_1.shp",
		Layer: "roads",
		Err:   errors.New("corrupt header"),
	}
	loader := &fakeLoader{
		boundaries: twoRegions(t),
		layers: map[int]map[string]*table.FeatureLayer{
			2018: {"shops": pointLayer("shops", orb.Point{1, 1})},
			2020: {"shops": pointLayer("shops", orb.Point{15, 1})},
		},
		errs: map[int]error{2019: loadErr},
	}
	exp := newRecordingExporter()
	rec := newSpyRecorder()
	runner := NewRunner(Deps{Loader: loader, Exporter: exp, Recorder: rec}, Options{ContinueOnError: true})

	summary, err := runner.Run(context.Background(), []int{2018, 2019, 2020})
	require.Error(t, err)
	assert.ErrorIs(t, err, loadErr)
	assert.Contains(t, err.Error(), "year 2019")

	require.Len(t, summary.Years, 3)
	failed := summary.Years[1]
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, coreerrors.StageLoadFeatures, failed.Stage)
	assert.Equal(t, "roads", failed.Layer)
	assert.Equal(t, StatusOK, summary.Years[2].Status)
	assert.Contains(t, exp.columns, 2020)

	assert.Equal(t, 2, rec.outcomes[metrics.OutcomeOK])
	assert.Equal(t, 1, rec.outcomes[metrics.OutcomeFailed])
	assert.Equal(t, 2, rec.features["point"])
	assert.Equal(t, 1, rec.runs)
}

func TestRun_StopsAfterFailureWithoutContinueOnError(t *testing.T) {
	loader := &fakeLoader{
		boundaries: twoRegions(t),
		layers: map[int]map[string]*table.FeatureLayer{
			2019: {"shops": pointLayer("shops", orb.Point{1, 1})},
		},
		errs: map[int]error{2018: errors.New("missing directory")},
	}
	runner := NewRunner(Deps{Loader: loader, Exporter: newRecordingExporter()}, Options{ContinueOnError: false})

	summary, err := runner.Run(context.Background(), []int{2018, 2019})
	require.Error(t, err)
	assert.Equal(t, []int{2018}, loader.requested)
	require.Len(t, summary.Years, 2)
	assert.Equal(t, StatusFailed, summary.Years[0].Status)
	assert.Equal(t, StatusSkipped, summary.Years[1].Status)
}

func TestRun_BoundaryFailureAbortsRun(t *testing.T) {
	boundaryErr := &coreerrors.LoadError{Stage: coreerrors.StageLoadBoundaries, Path: "missing.shp", Err: errors.New("no such file")}
	loader := &fakeLoader{boundaryErr: boundaryErr}
	runner := NewRunner(Deps{Loader: loader, Exporter: newRecordingExporter()}, Options{ContinueOnError: true})

	summary, err := runner.Run(context.Background(), []int{2018})
	require.ErrorIs(t, err, boundaryErr)
	assert.Empty(t, summary.Years)
	assert.Empty(t, loader.requested)
}

func TestRun_StageErrors(t *testing.T) {
	tests := []struct {
		name      string
		exportErr error
		storeErr  error
		aggregate AggregateFunc
		wantStage string
	}{
		{
			name: "aggregate",
			aggregate: func(context.Context, *table.BoundaryTable, map[string]*table.FeatureLayer, aggregation.Options) (aggregation.Report, error) {
				return aggregation.Report{}, &coreerrors.JoinError{Layer: "parks", Kind: "polygon", Err: coreerrors.ErrInvalidGeom}
			},
			wantStage: coreerrors.StageAggregate,
		},
		{
			name:      "export",
			exportErr: &coreerrors.ExportError{Stage: coreerrors.StageExport, Path: "out", Err: coreerrors.ErrNotWritable},
			wantStage: coreerrors.StageExport,
		},
		{
			name:      "store",
			storeErr:  errors.New("connection reset"),
			wantStage: coreerrors.StageStore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := &fakeLoader{
				boundaries: twoRegions(t),
				layers: map[int]map[string]*table.FeatureLayer{
					2018: {"shops": pointLayer("shops", orb.Point{1, 1})},
				},
			}
			exp := newRecordingExporter()
			exp.err = tt.exportErr
			runner := NewRunner(Deps{
				Loader:    loader,
				Exporter:  exp,
				Aggregate: tt.aggregate,
				Store:     &fakeStore{err: tt.storeErr},
			}, Options{ContinueOnError: true})

			summary, err := runner.Run(context.Background(), []int{2018})
			require.Error(t, err)
			require.Len(t, summary.Years, 1)
			assert.Equal(t, StatusFailed, summary.Years[0].Status)
			assert.Equal(t, tt.wantStage, summary.Years[0].Stage)
			assert.Equal(t, tt.wantStage, coreerrors.StageOf(summary.Years[0].Err))
		})
	}
}

func TestRun_SavesMetricsToStore(t *testing.T) {
	loader := &fakeLoader{
		boundaries: twoRegions(t),
		layers: map[int]map[string]*table.FeatureLayer{
			2018: {"shops": pointLayer("shops", orb.Point{1, 1}, orb.Point{2, 2})},
		},
	}
	store := &fakeStore{}
	runner := NewRunner(Deps{Loader: loader, Exporter: newRecordingExporter(), Store: store}, Options{})

	summary, err := runner.Run(context.Background(), []int{2018})
	require.NoError(t, err)
	require.Len(t, store.saved, 1)

	saved := store.saved[0]
	assert.Equal(t, summary.RunID, saved.RunID)
	assert.Equal(t, 2018, saved.Year)
	require.Len(t, saved.Rows, 2)
	assert.Equal(t, int64(1), saved.Rows[0].BoundaryID)
	assert.Equal(t, "shops_count", saved.Rows[0].Metric)
	assert.Equal(t, "2", saved.Rows[0].Value.String())
	assert.True(t, saved.Rows[1].Value.IsZero())
}

func TestRun_CanceledContext(t *testing.T) {
	loader := &fakeLoader{
		boundaries: twoRegions(t),
		layers:     map[int]map[string]*table.FeatureLayer{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(Deps{Loader: loader, Exporter: newRecordingExporter()}, Options{ContinueOnError: true})
	summary, err := runner.Run(ctx, []int{2018, 2019})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, summary.Years, 2)
	for _, y := range summary.Years {
		assert.Equal(t, StatusCanceled, y.Status)
	}
	assert.Empty(t, loader.requested)
}

func TestRun_WritesManifest(t *testing.T) {
	loader := &fakeLoader{
		boundaries: twoRegions(t),
		layers: map[int]map[string]*table.FeatureLayer{
			2018: {"shops": pointLayer("shops", orb.Point{1, 1})},
		},
		errs: map[int]error{2019: &coreerrors.LoadError{Stage: coreerrors.StageLoadFeatures, Path: "POI/2019", Err: errors.New("not found")}},
	}
	path := filepath.Join(t.TempDir(), export.ManifestName)
	runner := NewRunner(Deps{Loader: loader, Exporter: newRecordingExporter()}, Options{
		ContinueOnError: true,
		ManifestPath:    path,
		Aggregation:     aggregation.Options{Subcategory: true},
	})

	summary, err := runner.Run(context.Background(), []int{2018, 2019})
	require.Error(t, err)

	m, err := export.ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, m.RunID)
	assert.True(t, m.Subcategory)
	require.Len(t, m.Years, 2)
	assert.Equal(t, StatusOK, m.Years[0].Status)
	assert.Equal(t, []string{"shops_count", "food_shops_count"}, m.Years[0].Columns)
	assert.Equal(t, "2018.csv", m.Years[0].Artifacts.CSV)
	assert.Equal(t, StatusFailed, m.Years[1].Status)
	assert.Equal(t, coreerrors.StageLoadFeatures, m.Years[1].Stage)
	assert.Contains(t, m.Years[1].Error, "not found")
}
