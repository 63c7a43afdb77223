package sensor

import (
	"os"
	"strconv"
	"strings"
)

// DevFileReader reads a raw temperature value as plain text from a sysfs-
// style device file, the same convention a hwmon thermal-zone file or a
// thermocouple amplifier's Linux driver exposes. A read error is reported
// as FaultNotConnected and a parse error as FaultUnknown.
type DevFileReader struct {
	path string
}

func NewDevFileReader(path string) *DevFileReader {
	return &DevFileReader{path: path}
}

func (r *DevFileReader) Read() (float64, FaultClass, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return 0, FaultNotConnected, err
	}
	text := strings.TrimSpace(string(data))
	temp, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, FaultUnknown, err
	}
	return temp, FaultNone, nil
}
