package database

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
)

// nullInt scans a nullable integer column. rqlite returns JSON numbers as
// float64 while SQLite returns int64, so both are accepted.
type nullInt struct {
	Int64 int64
	Valid bool
}

func (n *nullInt) Scan(src any) error {
	n.Int64, n.Valid = 0, false
	switch v := src.(type) {
	case nil:
		return nil
	case int64:
		n.Int64 = v
	case float64:
		if v != math.Trunc(v) {
			return fmt.Errorf("non-integer value %v", v)
		}
		n.Int64 = int64(v)
	case []byte:
		i, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return err
		}
		n.Int64 = i
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		n.Int64 = i
	default:
		return fmt.Errorf("cannot scan %T into integer", src)
	}
	n.Valid = true
	return nil
}

func (n nullInt) ptr() *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func intValue(p *int) driver.Value {
	if p == nil {
		return nil
	}
	return int64(*p)
}
