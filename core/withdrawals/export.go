package withdrawals

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

var csvHeader = []string{"date_time", "status", "amount", "amount_dash", "owner_id", "address"}

// WriteCSV writes records to w with a header row.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("withdrawals: write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.DateTime.UTC().Format(time.RFC3339),
			r.Status.String(),
			strconv.FormatUint(r.Amount, 10),
			fmt.Sprintf("%.8f", float64(r.Amount)/float64(CreditsPerDash)),
			r.OwnerID.String(),
			r.Address,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("withdrawals: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("withdrawals: flush csv: %w", err)
	}
	return nil
}

type parquetRecord struct {
	DateTime string `parquet:"name=date_time, type=UTF8"`
	UnixNano int64  `parquet:"name=unix_nano, type=INT64"`
	Status   string `parquet:"name=status, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount   int64  `parquet:"name=amount, type=INT64"`
	OwnerID  string `parquet:"name=owner_id, type=UTF8"`
	Address  string `parquet:"name=address, type=UTF8"`
}

// WriteParquet writes records to a snappy compressed parquet file at path.
func WriteParquet(path string, records []Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("withdrawals: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRecord), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("withdrawals: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		if r.Amount > math.MaxInt64 {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("withdrawals: amount %d overflows parquet INT64", r.Amount)
		}
		pr := &parquetRecord{
			DateTime: r.DateTime.UTC().Format(time.RFC3339Nano),
			UnixNano: r.DateTime.UnixNano(),
			Status:   r.Status.String(),
			Amount:   int64(r.Amount),
			OwnerID:  r.OwnerID.String(),
			Address:  r.Address,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("withdrawals: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("withdrawals: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("withdrawals: close parquet file: %w", err)
	}
	return nil
}
