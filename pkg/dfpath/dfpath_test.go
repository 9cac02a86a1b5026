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

package dfpath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		options func(dir string) []Option
		expect  func(t *testing.T, dir string, d Dfpath, err error)
	}{
		{
			name: "new dfpath failed",
			options: func(dir string) []Option {
				return []Option{WithWorkHome(filepath.Join(dir, "home")), WithLogDir(""), WithDataDir(filepath.Join(dir, "data"))}
			},
			expect: func(t *testing.T, dir string, d Dfpath, err error) {
				assert.Error(t, err)
			},
		},
		{
			name: "new dfpath by workHome and workHomeMode",
			options: func(dir string) []Option {
				return []Option{
					WithWorkHome(filepath.Join(dir, "home")),
					WithWorkHomeMode(os.FileMode(0755)),
					WithLogDir(filepath.Join(dir, "logs")),
					WithDataDir(filepath.Join(dir, "data")),
				}
			},
			expect: func(t *testing.T, dir string, d Dfpath, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(filepath.Join(dir, "home"), d.WorkHome())
				assert.Equal(os.FileMode(0755), d.WorkHomeMode())
				assert.Equal(filepath.Join(dir, "logs"), d.LogDir())
				assert.DirExists(d.WorkHome())
				assert.DirExists(d.LogDir())
			},
		},
		{
			name: "new dfpath by dataDir and dataDirMode",
			options: func(dir string) []Option {
				return []Option{
					WithWorkHome(filepath.Join(dir, "home")),
					WithLogDir(filepath.Join(dir, "logs")),
					WithDataDir(filepath.Join(dir, "data")),
					WithDataDirMode(os.FileMode(0750)),
				}
			},
			expect: func(t *testing.T, dir string, d Dfpath, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal(filepath.Join(dir, "data"), d.DataDir())
				assert.Equal(os.FileMode(0750), d.DataDirMode())
				assert.Equal(filepath.Join(dir, "data", MetricsDirName), d.MetricsDir())
				assert.Equal(filepath.Join(dir, "data", ArtifactDirName), d.ArtifactDir())
				assert.DirExists(d.MetricsDir())
				assert.DirExists(d.ArtifactDir())
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			d, err := New(tc.options(dir)...)
			tc.expect(t, dir, d, err)
		})
	}
}
