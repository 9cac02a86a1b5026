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

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type BaseModel struct {
	ID        uint      `gorm:"primarykey;comment:id" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at;comment:created at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;comment:updated at" json:"updated_at"`
}

// Tags is a string map stored as JSON text.
type Tags map[string]string

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	ba, err := json.Marshal(map[string]string(t))
	return string(ba), err
}

func (t *Tags) Scan(val any) error {
	var ba []byte
	switch v := val.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		ba = v
	case string:
		ba = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal tags value: %v", val)
	}

	m := map[string]string{}
	err := json.Unmarshal(ba, &m)
	*t = Tags(m)
	return err
}

func (Tags) GormDataType() string {
	return "tags"
}

func (Tags) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return "text"
}

// Clone returns a copy that never aliases t.
func (t Tags) Clone() Tags {
	clone := make(Tags, len(t))
	for k, v := range t {
		clone[k] = v
	}

	return clone
}

// All returns every table of the tracker and the registry.
func All() []any {
	return []any{
		&Run{},
		&RunParam{},
		&RunMetric{},
		&RunTag{},
		&RegisteredModel{},
		&ModelVersion{},
	}
}
