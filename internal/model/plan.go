// Package model はドメインモデルを定義する。
package model

// Plan はテナントの料金プランを表す閉じた列挙型。
type Plan string

const (
	// PlanFree は無料プラン。
	PlanFree Plan = "free"
	// PlanStarter はスタータープラン。
	PlanStarter Plan = "starter"
	// PlanPro はプロプラン。
	PlanPro Plan = "pro"
)

// PlanLimits はプランごとの利用上限を表す。
type PlanLimits struct {
	// MaxContacts はテナントあたりのContact数上限。
	MaxContacts int
	// ReconcileBatchSize は1回の照合サイクルで処理するIntent数の上限。
	ReconcileBatchSize int
}

// planLimits はプランから上限へのマッピング。
var planLimits = map[Plan]PlanLimits{
	PlanFree:    {MaxContacts: 500, ReconcileBatchSize: 100},
	PlanStarter: {MaxContacts: 5000, ReconcileBatchSize: 500},
	PlanPro:     {MaxContacts: 100000, ReconcileBatchSize: 2000},
}

// LimitsFor はプランに対応する上限を返す。
// 未知のプランは無料プランの上限として扱う。
func LimitsFor(p Plan) PlanLimits {
	if limits, ok := planLimits[p]; ok {
		return limits
	}
	return planLimits[PlanFree]
}
