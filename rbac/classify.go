package rbac

import (
	"fmt"
	"net/http"
	"strings"
)

// RequestType is the intent of a request, supplied by the calling layer.
type RequestType string

const (
	TypeSystemManagement      RequestType = "system_management"
	TypeFinancialAccess       RequestType = "financial_access"
	TypeUserDataAccess        RequestType = "user_data_access"
	TypeCrossPermissionAccess RequestType = "cross_permission_access"
	TypeDataVisualization     RequestType = "data_visualization"
	TypeGeneralQuery          RequestType = "general_query"
)

// ParseRequestType maps a wire value to a RequestType. Empty input yields ""
// so the caller falls back to classification.
func ParseRequestType(s string) (RequestType, error) {
	switch t := RequestType(strings.TrimSpace(s)); t {
	case "", TypeSystemManagement, TypeFinancialAccess, TypeUserDataAccess,
		TypeCrossPermissionAccess, TypeDataVisualization, TypeGeneralQuery:
		return t, nil
	}
	return "", fmt.Errorf("unknown request type %q", s)
}

// Keyword tables are matched against lower-cased text. Order matters in
// typeKeywords: the first type with a hit wins, most privileged first.
var typeKeywords = []struct {
	typ   RequestType
	words []string
}{
	{TypeSystemManagement, []string{
		"system setting", "system config", "role management", "manage roles", "permission management",
		"manage permissions", "backup", "restore database", "audit log",
		"系统设置", "系统配置", "角色管理", "权限管理", "备份", "恢复数据", "审计日志",
	}},
	{TypeFinancialAccess, []string{
		"finance", "financial", "tuition", "fees", "payment", "salary", "revenue", "invoice", "refund",
		"财务", "学费", "收费", "缴费", "工资", "收入", "发票", "退费",
	}},
	{TypeCrossPermissionAccess, []string{
		"all classes", "every class", "other classes", "other class", "all students", "whole school",
		"all kindergartens", "other kindergarten",
		"所有班级", "全部班级", "其他班级", "所有学生", "全部学生", "全校", "所有幼儿园", "其他幼儿园",
	}},
	{TypeUserDataAccess, []string{
		"user list", "user data", "user info", "phone number", "id card", "home address", "personal information",
		"用户列表", "用户信息", "手机号", "电话号码", "身份证", "家庭住址", "个人信息",
	}},
	{TypeDataVisualization, []string{
		"chart", "graph", "trend", "statistics", "dashboard", "report",
		"图表", "趋势", "统计", "报表", "看板",
	}},
}

var categoryKeywords = map[Category][]string{
	CategoryUsers:     {"user", "account", "用户", "账号", "账户"},
	CategoryStudents:  {"student", "child", "children", "pupil", "学生", "幼儿", "孩子", "宝宝"},
	CategoryTeachers:  {"teacher", "staff", "教师", "老师", "员工"},
	CategoryParents:   {"parent", "guardian", "家长", "监护人"},
	CategoryFinancial: {"finance", "financial", "tuition", "fees", "payment", "salary", "财务", "学费", "收费", "工资"},
	CategorySystem:    {"system", "configuration", "系统", "配置"},
}

var categoryOrder = []Category{
	CategoryUsers, CategoryStudents, CategoryTeachers, CategoryParents, CategoryFinancial, CategorySystem,
}

// Destructive phrases rejected for every non-admin role.
var sensitivePhrases = []string{
	"modify system", "delete all", "drop table", "truncate", "disable audit", "grant admin",
	"reset all passwords", "export all users", "bulk delete",
	"修改系统", "删除所有", "删除全部", "清空", "批量删除", "提升权限", "关闭审计", "重置所有密码", "导出所有用户",
}

// Classify infers a RequestType from free text. It is a best-effort
// fallback: unseen phrasing falls through to TypeGeneralQuery, so it must
// not be the only control on a sensitive route.
func Classify(method, text string) RequestType {
	lower := strings.ToLower(text)
	for _, tk := range typeKeywords {
		if containsAny(lower, tk.words) {
			return tk.typ
		}
	}
	if mutating(method) && containsAny(lower, categoryKeywords[CategorySystem]) {
		return TypeSystemManagement
	}
	return TypeGeneralQuery
}

// MentionedCategories lists the data categories referenced in text.
func MentionedCategories(text string) []Category {
	lower := strings.ToLower(text)
	var out []Category
	for _, c := range categoryOrder {
		if containsAny(lower, categoryKeywords[c]) {
			out = append(out, c)
		}
	}
	return out
}

// SensitivePhrase returns the first destructive phrase found in text.
func SensitivePhrase(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range sensitivePhrases {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func containsAny(s string, words []string) bool {
	if s == "" {
		return false
	}
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
