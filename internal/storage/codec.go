package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"gexhaus/internal/ratios"
	"gexhaus/internal/record"
)

// partitionDoc is the on-disk layout of one (symbol, year) partition: the
// DailyExposureRecord fields flattened into parallel columns keyed by row
// index, nested mappings stored as parallel key/value sequences. The
// document is JSON-encoded and zstd-compressed.
type partitionDoc struct {
	Symbol string   `json:"symbol"`
	Year   int      `json:"year"`
	Dates  []string `json:"dates"` // YYYY-MM-DD, ascending

	NetGammaBillions []float64 `json:"net_gamma_billions"`
	NetDeltaMillions []float64 `json:"net_delta_millions"`

	GEXStrikes [][]float64 `json:"gex_strikes"`
	GEXValues  [][]float64 `json:"gex_values"`

	IVATM    []*float64  `json:"iv_atm"`
	SkewRR25 []*float64  `json:"skew_rr25"`
	BF25     []*float64  `json:"bf25"`
	TermTenors [][]string  `json:"term_tenors"`
	TermIVs    [][]float64 `json:"term_ivs"`

	RVWindows [][]int      `json:"rv_windows"`
	RVVols    [][]*float64 `json:"rv_vols"`

	RatioVolume        []ratios.Ratio `json:"pc_volume"`
	RatioOpenInterest  []ratios.Ratio `json:"pc_open_interest"`
	RatioPremium       []ratios.Ratio `json:"pc_premium"`
	RatioDeltaWeighted []ratios.Ratio `json:"pc_delta_weighted"`
	Sentiment          []string       `json:"sentiment"`

	TotalOI []int64 `json:"total_oi"`
	CallOI  []int64 `json:"call_oi"`
	PutOI   []int64 `json:"put_oi"`

	LiquidityStress []float64 `json:"liquidity_stress_index"`

	Excluded  []int      `json:"excluded_contracts"`
	Flags     [][]string `json:"quality_flags"`
	Quality   []string   `json:"quality"`
	CreatedAt []string   `json:"created_at"`
}

const dateLayout = "2006-01-02"

func newPartitionDoc(symbol string, year int) *partitionDoc {
	return &partitionDoc{Symbol: symbol, Year: year}
}

// rows returns the number of rows in the partition.
func (d *partitionDoc) rows() int {
	return len(d.Dates)
}

// indexOf returns the row index for the given date, or -1.
func (d *partitionDoc) indexOf(date time.Time) int {
	key := date.Format(dateLayout)
	for i, ds := range d.Dates {
		if ds == key {
			return i
		}
	}
	return -1
}

// setRow writes the record's columns at row i; i == rows() appends.
func (d *partitionDoc) setRow(i int, rec *record.DailyExposureRecord) {
	strikes := make([]float64, 0, len(rec.GEXByStrike))
	values := make([]float64, 0, len(rec.GEXByStrike))
	for _, sg := range rec.GEXByStrike {
		strikes = append(strikes, sg.Strike)
		values = append(values, sg.GammaBillions)
	}

	tenors := make([]string, 0, len(rec.Term))
	termIVs := make([]float64, 0, len(rec.Term))
	for _, tp := range rec.Term {
		tenors = append(tenors, tp.Tenor)
		termIVs = append(termIVs, tp.ATMIV)
	}

	windows := make([]int, 0, len(rec.RealizedVol))
	vols := make([]*float64, 0, len(rec.RealizedVol))
	for _, wv := range rec.RealizedVol {
		windows = append(windows, wv.Window)
		vols = append(vols, wv.Vol)
	}

	flags := make([]string, 0, len(rec.Flags))
	for _, f := range rec.Flags {
		flags = append(flags, string(f))
	}

	if i == d.rows() {
		d.Dates = append(d.Dates, rec.Date.Format(dateLayout))
		d.NetGammaBillions = append(d.NetGammaBillions, rec.NetGammaBillions)
		d.NetDeltaMillions = append(d.NetDeltaMillions, rec.NetDeltaMillions)
		d.GEXStrikes = append(d.GEXStrikes, strikes)
		d.GEXValues = append(d.GEXValues, values)
		d.IVATM = append(d.IVATM, rec.IVATM)
		d.SkewRR25 = append(d.SkewRR25, rec.SkewRR25)
		d.BF25 = append(d.BF25, rec.BF25)
		d.TermTenors = append(d.TermTenors, tenors)
		d.TermIVs = append(d.TermIVs, termIVs)
		d.RVWindows = append(d.RVWindows, windows)
		d.RVVols = append(d.RVVols, vols)
		d.RatioVolume = append(d.RatioVolume, rec.PutCallRatios.Volume)
		d.RatioOpenInterest = append(d.RatioOpenInterest, rec.PutCallRatios.OpenInterest)
		d.RatioPremium = append(d.RatioPremium, rec.PutCallRatios.Premium)
		d.RatioDeltaWeighted = append(d.RatioDeltaWeighted, rec.PutCallRatios.DeltaWeighted)
		d.Sentiment = append(d.Sentiment, rec.Sentiment)
		d.TotalOI = append(d.TotalOI, rec.TotalOI)
		d.CallOI = append(d.CallOI, rec.CallOI)
		d.PutOI = append(d.PutOI, rec.PutOI)
		d.LiquidityStress = append(d.LiquidityStress, rec.LiquidityStress)
		d.Excluded = append(d.Excluded, rec.Excluded)
		d.Flags = append(d.Flags, flags)
		d.Quality = append(d.Quality, string(rec.Quality))
		d.CreatedAt = append(d.CreatedAt, rec.CreatedAt.Format(time.RFC3339Nano))
		return
	}

	d.Dates[i] = rec.Date.Format(dateLayout)
	d.NetGammaBillions[i] = rec.NetGammaBillions
	d.NetDeltaMillions[i] = rec.NetDeltaMillions
	d.GEXStrikes[i] = strikes
	d.GEXValues[i] = values
	d.IVATM[i] = rec.IVATM
	d.SkewRR25[i] = rec.SkewRR25
	d.BF25[i] = rec.BF25
	d.TermTenors[i] = tenors
	d.TermIVs[i] = termIVs
	d.RVWindows[i] = windows
	d.RVVols[i] = vols
	d.RatioVolume[i] = rec.PutCallRatios.Volume
	d.RatioOpenInterest[i] = rec.PutCallRatios.OpenInterest
	d.RatioPremium[i] = rec.PutCallRatios.Premium
	d.RatioDeltaWeighted[i] = rec.PutCallRatios.DeltaWeighted
	d.Sentiment[i] = rec.Sentiment
	d.TotalOI[i] = rec.TotalOI
	d.CallOI[i] = rec.CallOI
	d.PutOI[i] = rec.PutOI
	d.LiquidityStress[i] = rec.LiquidityStress
	d.Excluded[i] = rec.Excluded
	d.Flags[i] = flags
	d.Quality[i] = string(rec.Quality)
	d.CreatedAt[i] = rec.CreatedAt.Format(time.RFC3339Nano)
}

// upsert inserts or replaces the record's row, keeping dates ascending.
func (d *partitionDoc) upsert(rec *record.DailyExposureRecord) {
	if i := d.indexOf(rec.Date); i >= 0 {
		d.setRow(i, rec)
		return
	}
	d.setRow(d.rows(), rec)
	d.sortByDate()
}

// sortByDate restores ascending date order after an append. Partitions are
// small (at most one row per trading day of a year), so a full re-sort via
// row extraction is fine.
func (d *partitionDoc) sortByDate() {
	n := d.rows()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return d.Dates[idx[a]] < d.Dates[idx[b]] })

	recs := make([]*record.DailyExposureRecord, n)
	for i, j := range idx {
		recs[i] = d.rowAt(j)
	}
	*d = *newPartitionDoc(d.Symbol, d.Year)
	for i, rec := range recs {
		d.setRow(i, rec)
	}
}

// rowAt reconstructs the record stored at row i.
func (d *partitionDoc) rowAt(i int) *record.DailyExposureRecord {
	date, _ := time.Parse(dateLayout, d.Dates[i])
	created, _ := time.Parse(time.RFC3339Nano, d.CreatedAt[i])

	rec := &record.DailyExposureRecord{
		Symbol:           d.Symbol,
		Date:             date,
		NetGammaBillions: d.NetGammaBillions[i],
		NetDeltaMillions: d.NetDeltaMillions[i],
		IVATM:            d.IVATM[i],
		SkewRR25:         d.SkewRR25[i],
		BF25:             d.BF25[i],
		Sentiment:        d.Sentiment[i],
		TotalOI:          d.TotalOI[i],
		CallOI:           d.CallOI[i],
		PutOI:            d.PutOI[i],
		LiquidityStress:  d.LiquidityStress[i],
		Excluded:         d.Excluded[i],
		Quality:          record.Quality(d.Quality[i]),
		CreatedAt:        created,
		PutCallRatios: record.PutCallRatios{
			Volume:        d.RatioVolume[i],
			OpenInterest:  d.RatioOpenInterest[i],
			Premium:       d.RatioPremium[i],
			DeltaWeighted: d.RatioDeltaWeighted[i],
		},
	}

	for j, strike := range d.GEXStrikes[i] {
		rec.GEXByStrike = append(rec.GEXByStrike, record.StrikeGamma{Strike: strike, GammaBillions: d.GEXValues[i][j]})
	}
	for j, tenor := range d.TermTenors[i] {
		rec.Term = append(rec.Term, record.TermPoint{Tenor: tenor, ATMIV: d.TermIVs[i][j]})
	}
	for j, w := range d.RVWindows[i] {
		rec.RealizedVol = append(rec.RealizedVol, record.WindowVol{Window: w, Vol: d.RVVols[i][j]})
	}
	for _, f := range d.Flags[i] {
		rec.Flags = append(rec.Flags, record.Flag(f))
	}

	return rec
}

// encodeTo writes the JSON-encoded, zstd-compressed document to w.
func (d *partitionDoc) encodeTo(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(d); err != nil {
		zw.Close()
		return fmt.Errorf("encode partition: %w", err)
	}
	return zw.Close()
}

// loadPartition reads and decodes a partition file. A missing file returns
// an empty document.
func loadPartition(path, symbol string, year int) (*partitionDoc, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return newPartitionDoc(symbol, year), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open zstd reader for %s: %w", path, err)
	}
	defer zr.Close()

	var doc partitionDoc
	if err := json.NewDecoder(zr).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode partition %s: %w", path, err)
	}
	return &doc, nil
}
