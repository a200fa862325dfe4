// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package catalog

import (
	"strconv"
	"strings"

	"github.com/cubefs/objmeta/proto"
)

const (
	tagSep      = ","
	tagValueSep = "="
)

type tagExprKind int

const (
	tagExprNone tagExprKind = iota
	tagExprSubstring
	tagExprMatch
	tagExprRange
)

// tagExpr is a parsed tag predicate:
//
//	key:value   attribute key equals value, an empty value only requires the key
//	key~lo-hi   attribute value is an integer within [lo, hi]
//	anything    substring of the tag string
type tagExpr struct {
	kind  tagExprKind
	raw   string
	key   string
	value string
	from  int64
	to    int64
}

func parseTagExpr(s string) tagExpr {
	if s == "" || s == proto.NoChange {
		return tagExpr{kind: tagExprNone}
	}
	if k, v, ok := strings.Cut(s, ":"); ok {
		return tagExpr{kind: tagExprMatch, raw: s, key: k, value: v}
	}
	if k, v, ok := strings.Cut(s, "~"); ok {
		e := tagExpr{kind: tagExprRange, raw: s, key: k}
		lo, hi, _ := strings.Cut(v, "-")
		e.from, _ = strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		e.to, _ = strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		return e
	}
	return tagExpr{kind: tagExprSubstring, raw: s}
}

func (e *tagExpr) match(tags string) bool {
	switch e.kind {
	case tagExprNone:
		return true
	case tagExprSubstring:
		return strings.Contains(tags, e.raw)
	}

	for _, tag := range strings.Split(tags, tagSep) {
		k, v, _ := strings.Cut(tag, tagValueSep)
		if strings.TrimSpace(k) != e.key {
			continue
		}
		v = strings.TrimSpace(v)
		switch e.kind {
		case tagExprMatch:
			if e.value == "" || e.value == v {
				return true
			}
		case tagExprRange:
			n, err := strconv.ParseInt(v, 10, 64)
			if err == nil && n >= e.from && n <= e.to {
				return true
			}
		}
	}
	return false
}

type matcher struct {
	pred *proto.Predicate
	tag  tagExpr
}

func newMatcher(pred *proto.Predicate) *matcher {
	return &matcher{pred: pred, tag: parseTagExpr(pred.Tags)}
}

func (q *matcher) match(m *proto.Metadata) bool {
	p := q.pred
	if p.ListAll {
		return true
	}
	if p.UserID > 0 && p.UserID != m.UserID {
		return false
	}
	if isSet(p.AppName) && p.AppName != m.AppName {
		return false
	}
	if isSet(p.ObjName) && p.ObjName != m.ObjName {
		return false
	}
	if p.TimeStepFrom > 0 && p.TimeStepTo > 0 &&
		(m.TimeStep < p.TimeStepFrom || m.TimeStep > p.TimeStepTo) {
		return false
	}
	if p.Ndim > 0 && p.Ndim != m.Ndim {
		return false
	}
	return q.tag.match(m.Tags)
}

func isSet(s string) bool {
	return s != "" && s != proto.NoChange
}

func appendTag(tags, tag string) string {
	if tags == "" {
		return tag
	}
	return tags + tagSep + tag
}
