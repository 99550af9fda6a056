package crawler

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCSVSinkWritesHeaderAndRows(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink, err := NewCSVSink(&buf)
	require.NoError(t, err)
	require.Equal(t, "Region,Clinic_Name,Address,Phone,Email,Services\n", buf.String())

	require.NoError(t, sink.Write(ClinicRecord{
		Region:   "Brisbane",
		Name:     "My FootDr Brisbane",
		Address:  "Level 1, 123 Queen Street Brisbane QLD 4000",
		Phone:    "(07) 1234 5678",
		Email:    "info@myfootdr.com.au",
		Services: []string{"General Podiatry", "Orthotics"},
	}))
	require.NoError(t, sink.Write(ClinicRecord{Region: "Brisbane", Name: `The "Foot" Clinic`}))
	require.NoError(t, sink.Close())

	require.Equal(t,
		"Region,Clinic_Name,Address,Phone,Email,Services\n"+
			`Brisbane,My FootDr Brisbane,"Level 1, 123 Queen Street Brisbane QLD 4000",(07) 1234 5678,info@myfootdr.com.au,General Podiatry; Orthotics`+"\n"+
			`Brisbane,"The ""Foot"" Clinic",,,,`+"\n",
		buf.String())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, `The "Foot" Clinic`, rows[2][1])
}

func TestOpenCSVFileCreatesDirectoryAndWarnsOnOverwrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "clinics.csv")
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	sink, err := OpenCSVFile(path, logger)
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.Zero(t, logs.Len())

	sink, err = OpenCSVFile(path, logger)
	require.NoError(t, err)
	require.NoError(t, sink.Write(ClinicRecord{Region: "Sydney", Name: "Bondi"}))
	require.NoError(t, sink.Close())
	require.Equal(t, 1, logs.FilterMessage("overwriting existing output file").Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Region,Clinic_Name,Address,Phone,Email,Services\nSydney,Bondi,,,,\n", string(data))
}

func TestCSVSinkSurfacesWriteErrors(t *testing.T) {
	t.Parallel()

	w := &failingWriter{}
	sink, err := NewCSVSink(w)
	require.NoError(t, err)

	w.err = errors.New("disk full")
	require.ErrorContains(t, sink.Write(ClinicRecord{Region: "R", Name: "N"}), "disk full")
}

type failingWriter struct {
	err error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	return len(p), nil
}
