/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metricstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/gocarina/gocsv"
)

// record is one csv row of a raw partition.
type record struct {
	// Timestamp is the sample time in unix nanoseconds.
	Timestamp int64 `csv:"timestamp"`

	// Source is the sample source.
	Source string `csv:"source"`

	// Fields is the json object of numeric fields.
	Fields string `csv:"fields"`

	// Labels is the json object of labels.
	Labels string `csv:"labels"`

	// IngestedAt is the ingest time in unix nanoseconds.
	IngestedAt int64 `csv:"ingested_at"`
}

func newRecord(sample Sample, ingestedAt time.Time) (*record, error) {
	fields, err := json.Marshal(sample.Fields)
	if err != nil {
		return nil, err
	}

	labels := sample.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	rawLabels, err := json.Marshal(labels)
	if err != nil {
		return nil, err
	}

	return &record{
		Timestamp:  sample.Timestamp.UnixNano(),
		Source:     sample.Source,
		Fields:     string(fields),
		Labels:     string(rawLabels),
		IngestedAt: ingestedAt.UnixNano(),
	}, nil
}

func (r *record) time() time.Time {
	return time.Unix(0, r.Timestamp).UTC()
}

func (r *record) sample() (Sample, error) {
	sample := Sample{
		Timestamp: r.time(),
		Source:    r.Source,
		Fields:    map[string]float64{},
		Labels:    map[string]string{},
	}

	if r.Fields != "" {
		if err := json.Unmarshal([]byte(r.Fields), &sample.Fields); err != nil {
			return Sample{}, err
		}
	}

	if r.Labels != "" {
		if err := json.Unmarshal([]byte(r.Labels), &sample.Labels); err != nil {
			return Sample{}, err
		}
	}

	return sample, nil
}

// encodeRecords renders records as headerless csv rows.
func encodeRecords(records []*record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gocsv.MarshalWithoutHeaders(records, &buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// readRecords reads every row of a raw partition, a missing file has no rows.
func readRecords(path string) ([]*record, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	if info.Size() == 0 {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []*record
	if err := gocsv.UnmarshalWithoutHeaders(file, &records); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}

		return nil, err
	}

	return records, nil
}

// writeFileAtomic replaces path with data through a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
