package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ChangeValue is the canonical JSON text of one side of a change record.
// It is stored as jsonb on postgres and as text elsewhere, and scans back
// from whatever the driver returns for a JSON literal, including the bare
// numbers and booleans sqlite hands out for numeric-affinity columns.
type ChangeValue datatypes.JSON

var nullChangeValue = []byte("null")

func (v ChangeValue) Value() (driver.Value, error) {
	if len(v) == 0 {
		return string(nullChangeValue), nil
	}
	return string(v), nil
}

func (v *ChangeValue) Scan(value any) error {
	switch val := value.(type) {
	case nil:
		*v = append((*v)[:0], nullChangeValue...)
	case []byte:
		*v = append((*v)[:0], val...)
	case string:
		*v = append((*v)[:0], val...)
	case int64:
		*v = strconv.AppendInt((*v)[:0], val, 10)
	case float64:
		*v = strconv.AppendFloat((*v)[:0], val, 'g', -1, 64)
	case bool:
		*v = strconv.AppendBool((*v)[:0], val)
	default:
		return fmt.Errorf("change value: unsupported scan type %T", value)
	}
	return nil
}

func (v ChangeValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return nullChangeValue, nil
	}
	return datatypes.JSON(v).MarshalJSON()
}

func (v *ChangeValue) UnmarshalJSON(b []byte) error {
	return (*datatypes.JSON)(v).UnmarshalJSON(b)
}

func (v ChangeValue) String() string {
	if len(v) == 0 {
		return string(nullChangeValue)
	}
	return string(v)
}

// GormDataType gorm common data type
func (ChangeValue) GormDataType() string {
	return "json"
}

// GormDBDataType gorm db data type
func (ChangeValue) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "jsonb"
	default:
		return "text"
	}
}
