package ops

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/predict"
	"github.com/hpungsan/protkit/internal/sequence"
	"github.com/hpungsan/protkit/internal/session"
	"github.com/hpungsan/protkit/internal/tasks"
)

// Workbook sheet names.
const (
	SheetProperties  = "Properties"
	SheetComposition = "Composition"
	SheetPredictions = "Predictions"
)

var propertiesHeader = []any{
	"Slot", "Accession", "Length", "Molecular weight (Da)", "pI",
	"Ext. coeff. reduced", "Ext. coeff. cystines", "Abs 0.1% reduced", "Abs 0.1% cystines",
	"GRAVY", "Hydropathy", "Hydrophobic", "Polar", "Charged",
}

var predictionsHeader = []any{
	"Slot", "Status", "Residues", "Confidence", "Simulation", "Structure ID", "Format",
	"Submitted", "Completed", "Error code", "Error",
}

// ExportWorkbook writes the session's properties, composition and
// prediction status to an .xlsx file. The session is analyzed first when it
// has no stored analysis.
func ExportWorkbook(ctx context.Context, r *Runner, s *session.State, input ExportInput) (*ExportOutput, error) {
	if s.Analysis == nil {
		if _, err := AnalyzeAll(ctx, r, s); err != nil && !errors.Is(err, errors.ErrEmptySequence) {
			return nil, err
		}
	}

	f, err := BuildWorkbook(s)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	path, err := exportPath(input.Path, s.Name, "report-"+time.Now().Format("20060102_150405")+".xlsx")
	if err != nil {
		return nil, err
	}
	rows := 0
	if s.Analysis != nil {
		rows = len(s.Analysis.Individual)
	}
	return writeArtifact(path, WorkbookExts, r.Cfg, rows, func(w io.Writer) error {
		return f.Write(w)
	})
}

// BuildWorkbook renders the session into an in-memory workbook.
func BuildWorkbook(s *session.State) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := fillWorkbook(f, s); err != nil {
		f.Close()
		return nil, errors.NewInternal(err)
	}
	return f, nil
}

func fillWorkbook(f *excelize.File, s *session.State) error {
	// The default sheet becomes Properties
	if err := f.SetSheetName("Sheet1", SheetProperties); err != nil {
		return err
	}
	for _, name := range []string{SheetComposition, SheetPredictions} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	var analyses []session.SlotAnalysis
	if s.Analysis != nil {
		analyses = append(analyses, s.Analysis.Individual...)
		if s.Analysis.Combined != nil {
			analyses = append(analyses, *s.Analysis.Combined)
		}
	}

	if err := setRow(f, SheetProperties, 1, propertiesHeader); err != nil {
		return err
	}
	for i, a := range analyses {
		res := a.Result
		row := []any{
			slotLabel(a.Slot), a.Accession, res.Length, res.MolecularWeight, res.IsoelectricPoint,
			res.ExtinctionReduced, res.ExtinctionCystines, res.AbsReduced, res.AbsCystines,
			res.Gravy, a.Band, a.Classes.Hydrophobic, a.Classes.Polar, a.Classes.Charged,
		}
		if err := setRow(f, SheetProperties, i+2, row); err != nil {
			return err
		}
	}

	header := []any{"Residue"}
	for _, a := range analyses {
		header = append(header, slotLabel(a.Slot))
	}
	if err := setRow(f, SheetComposition, 1, header); err != nil {
		return err
	}
	for i := 0; i < len(sequence.Alphabet); i++ {
		aa := string(sequence.Alphabet[i])
		row := []any{aa}
		for _, a := range analyses {
			row = append(row, a.Result.Composition[aa])
		}
		if err := setRow(f, SheetComposition, i+2, row); err != nil {
			return err
		}
	}

	if err := setRow(f, SheetPredictions, 1, predictionsHeader); err != nil {
		return err
	}
	for i, t := range s.Tasks.Tasks() {
		if err := setRow(f, SheetPredictions, i+2, predictionRow(i, t)); err != nil {
			return err
		}
	}
	return nil
}

func predictionRow(slot int, t tasks.Task) []any {
	row := []any{slot + 1, string(t.Status), len(t.Sequence), "", "", "", "", stamp(t.SubmittedAt), stamp(t.CompletedAt), "", ""}
	if t.Result != nil {
		if t.Result.Confidence != nil {
			row[3] = *t.Result.Confidence
		}
		row[4] = t.Result.Simulation
		if t.Result.Structure != nil {
			row[5] = t.Result.Structure.ID
			row[6] = t.Result.Structure.Format
		}
	}
	if t.Error != nil {
		row[9] = string(t.Error.Code)
		row[10] = t.Error.Message
	}
	return row
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// slotLabel is the one-based slot number, or "combined".
func slotLabel(slot int) string {
	if slot < 0 {
		return "combined"
	}
	return fmt.Sprintf("slot %d", slot+1)
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(predict.TimeLayout)
}
