package history

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Dimensions is the length of every embedding and of the vector column
const Dimensions = 384

// Vocabulary flagged in dimensions 50-149. Japanese and English terms that
// users combine with the sales dimensions and measures.
var salesKeywords = []string{
	"売上", "収益", "販売", "数量", "件数", "平均", "合計", "推移", "比較", "ランキング",
	"月", "月別", "年", "週", "日別", "前年", "カテゴリ", "商品", "地域", "エリア",
	"チャネル", "店舗", "オンライン", "顧客", "セグメント", "法人", "個人",
	"revenue", "sales", "units", "amount", "price", "average", "total", "top",
	"month", "monthly", "year", "trend", "category", "region", "channel",
	"segment", "customer", "online", "store", "compare", "ratio", "share",
}

const (
	charFeatures    = 50
	keywordOffset   = 50
	structureOffset = 150
	bigramOffset    = 200
)

// Embed maps text onto a fixed-length vector for similarity lookups. It
// mixes ASCII character frequencies, keyword flags, a few length features
// and hashed rune bigrams so that Japanese text also gets signal.
func Embed(text string) []float32 {
	embedding := make([]float32, Dimensions)
	text = strings.ToLower(strings.TrimSpace(text))
	runes := []rune(text)
	if len(runes) == 0 {
		return embedding
	}

	charCounts := make(map[rune]int)
	for _, r := range runes {
		charCounts[r]++
	}
	for i, r := range "abcdefghijklmnopqrstuvwxyz0123456789 " {
		if i < charFeatures {
			embedding[i] = float32(charCounts[r]) / float32(len(runes))
		}
	}

	for i, keyword := range salesKeywords {
		if keywordOffset+i < structureOffset && strings.Contains(text, keyword) {
			embedding[keywordOffset+i] = 1.0
		}
	}

	embedding[structureOffset] = float32(len(runes)) / 1000.0
	embedding[structureOffset+1] = float32(strings.Count(text, " ")) / float32(len(runes))
	embedding[structureOffset+2] = float32(strings.Count(text, "?") + strings.Count(text, "？"))
	embedding[structureOffset+3] = float32(countDigits(runes)) / float32(len(runes))

	buckets := uint32(Dimensions - bigramOffset)
	for i := 0; i+1 < len(runes); i++ {
		if unicode.IsSpace(runes[i]) || unicode.IsSpace(runes[i+1]) {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(string(runes[i : i+2])))
		embedding[bigramOffset+int(h.Sum32()%buckets)] += 0.5
	}

	normalize(embedding)
	return embedding
}

func countDigits(runes []rune) int {
	n := 0
	for _, r := range runes {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// normalize scales v to unit length so cosine distance compares direction only
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
