package datasets

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	return strconv.ParseFloat(s, 64)
}

// openCSV opens path for reading, transparently decompressing files ending in ".xz".
func openCSV(path string) (*csv.Reader, io.Closer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	var r io.Reader = bufio.NewReader(file)
	if strings.HasSuffix(path, ".xz") {
		r, err = xz.NewReader(r)
		if err != nil {
			file.Close()
			return nil, nil, errors.Wrapf(err, "open xz stream %s", path)
		}
	}
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	return reader, file, nil
}

// CountRows counts the number of data rows in a CSV file (excluding header).
func CountRows(path string) (int, error) {
	reader, closer, err := openCSV(path)
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	// Skip header
	if _, err := reader.Read(); err != nil {
		return 0, err
	}

	count := 0
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		count++
	}

	return count, nil
}

// ReadHeader returns the column names of a CSV file, without the leading
// identifier column.
func ReadHeader(path string) ([]string, error) {
	reader, closer, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", path)
	}
	if len(header) < 2 {
		return nil, errors.Errorf("%s has no data columns", path)
	}
	return append([]string(nil), header[1:]...), nil
}
