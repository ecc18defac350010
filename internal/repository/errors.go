package repository

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolationCode はPostgreSQLのunique_violationエラーコード。
const uniqueViolationCode = "23505"

// IsUniqueViolation はユニーク制約違反によるエラーかどうかを判定する。
// 並行アップサートの競合検出に使用する。データストアのユニーク制約が
// 一貫性の拠り所であり、アプリケーション側のロックは行わない。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}
