package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// --- Content idea generation ---
//
// Everything here is template substitution over keyword frequency tables.
// There is no model call behind any of it; predictPerformance in particular
// is a toy heuristic and must stay one.

// IdeaPreferences carries the caller's free-form channel settings. Only
// presence is validated; the strings themselves are opaque.
type IdeaPreferences struct {
	ChannelName    string   `json:"channelName"`
	Categories     []string `json:"categories"`
	ContentTypes   []string `json:"contentTypes"`
	TargetAudience string   `json:"targetAudience"`
}

// ContentIdeaBundle is the full generator output.
type ContentIdeaBundle struct {
	VideoIdeas           []string        `json:"videoIdeas"`
	TitleSuggestions     []string        `json:"titleSuggestions"`
	DescriptionTemplates []string        `json:"descriptionTemplates"`
	HashtagSuggestions   []string        `json:"hashtagSuggestions"`
	Schedule             []ScheduleEntry `json:"schedule"`
}

type ScheduleEntry struct {
	Day              string `json:"day"`
	SuggestedContent string `json:"suggestedContent"`
	BestTime         string `json:"bestTime"`
	Description      string `json:"description"`
}

// PerformancePrediction is the predictPerformance result.
type PerformancePrediction struct {
	EstimatedViews    int      `json:"estimatedViews"`
	KeywordMatchScore int      `json:"keywordMatchScore"`
	Confidence        float64  `json:"confidence"`
	Recommendations   []string `json:"recommendations"`
}

// extractIdeaKeywords is the generator's own tag extractor: lower-cased,
// trimmed, words of three or more characters, top 15. It intentionally
// stays separate from extractPopularKeywords (top 20, untrimmed); the two
// feed different UI surfaces and their divergence is visible output.
func extractIdeaKeywords(videos []VideoRecord) []string {
	counts := map[string]int{}
	var order []string
	for _, v := range videos {
		for _, tag := range v.Tags {
			kw := strings.TrimSpace(strings.ToLower(tag))
			if utf8.RuneCountInString(kw) <= 2 {
				continue
			}
			if _, seen := counts[kw]; !seen {
				order = append(order, kw)
			}
			counts[kw]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 15 {
		order = order[:15]
	}
	return order
}

var titleWordPattern = regexp.MustCompile(`[^a-zA-Z0-9_\s가-힣]`)

// identifyTrendingTopics mines video titles (not tags) for frequent words:
// lower-case, strip everything that is not alphanumeric, underscore,
// whitespace or Hangul, split on whitespace, drop short words, top 10.
func identifyTrendingTopics(videos []VideoRecord) []string {
	counts := map[string]int{}
	var order []string
	for _, v := range videos {
		cleaned := titleWordPattern.ReplaceAllString(strings.ToLower(v.Title), "")
		for _, word := range strings.Fields(cleaned) {
			if utf8.RuneCountInString(word) <= 2 {
				continue
			}
			if _, seen := counts[word]; !seen {
				order = append(order, word)
			}
			counts[word]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 10 {
		order = order[:10]
	}
	return order
}

func generateVideoIdeas(keywords, topics []string, prefs IdeaPreferences) []string {
	categories := prefs.Categories
	if len(categories) == 0 {
		categories = []string{"일반"}
	}
	contentTypes := prefs.ContentTypes
	if len(contentTypes) == 0 {
		contentTypes = []string{"리뷰", "튜토리얼", "브이로그"}
	}

	var ideas []string
	for _, kw := range headN(keywords, 5) {
		for _, ct := range contentTypes {
			ideas = append(ideas,
				fmt.Sprintf("%s %s - 최신 트렌드 분석", kw, ct),
				fmt.Sprintf("%s 완전정복 - %s 가이드", kw, ct),
				fmt.Sprintf("%s 실전 %s - 꿀팁 공개", kw, ct),
			)
		}
	}
	for _, topic := range headN(topics, 3) {
		ideas = append(ideas,
			fmt.Sprintf("%s 관련 최신 소식 정리", topic),
			fmt.Sprintf("%s에 대한 솔직한 후기", topic),
			fmt.Sprintf("%s 완전 분석 - 모든 것", topic),
		)
	}
	for _, category := range categories {
		ideas = append(ideas,
			fmt.Sprintf("%s 카테고리 인기 콘텐츠 분석", category),
			fmt.Sprintf("%s에서 성공하는 방법", category),
			fmt.Sprintf("%s 트렌드 예측", category),
		)
	}
	return headN(ideas, 20)
}

var titleTemplates = []string{
	"{keyword} 완전정복 - {number}분 만에 배우기",
	"놓치면 후회! {keyword} 최신 트렌드",
	"{keyword} 실전 가이드 - 초보자도 OK",
	"화제의 {keyword} - 솔직한 리뷰",
	"{keyword}로 돈 버는 방법",
	"{keyword} 완전 분석 - 모든 것",
	"이것만 알면 OK! {keyword} 꿀팁",
	"{keyword} 비교 분석 - 어떤 게 좋을까?",
	"{keyword} 후기 - 솔직한 평가",
	"{keyword} 트렌드 예측 - 미래는?",
}

func generateTitleSuggestions(keywords []string, _ IdeaPreferences) []string {
	var suggestions []string
	for _, kw := range headN(keywords, 5) {
		for _, tpl := range titleTemplates {
			number := rand.Intn(30) + 5
			s := strings.Replace(tpl, "{keyword}", kw, 1)
			s = strings.Replace(s, "{number}", fmt.Sprint(number), 1)
			suggestions = append(suggestions, s)
		}
	}
	return headN(suggestions, 30)
}

func generateDescriptionTemplates(prefs IdeaPreferences) []string {
	channel := prefs.ChannelName
	if channel == "" {
		channel = "여러분"
	}
	return []string{
		fmt.Sprintf(`안녕하세요! %s입니다.

이번 영상에서는 최신 트렌드에 대해 알아보겠습니다.

📌 영상 구성:
- 트렌드 분석
- 실전 적용법
- 주의사항
- 마무리

👍 좋아요와 구독은 영상 제작에 큰 도움이 됩니다!
💬 궁금한 점이 있으시면 댓글로 남겨주세요.

#트렌드 #분석 #유튜브 #콘텐츠`, channel),

		`오늘은 여러분이 궁금해하시는 주제에 대해 자세히 설명드리겠습니다.

🔥 핵심 포인트:
- 포인트 1
- 포인트 2
- 포인트 3

📚 더 자세한 정보는 아래 링크를 참고하세요.
🔔 알림 설정을 켜두시면 새로운 영상을 놓치지 않으실 수 있습니다.

구독과 좋아요 감사합니다! 🙏`,

		`안녕하세요!

이번 영상에서는 실생활에 바로 적용할 수 있는 유용한 정보를 공유합니다.

⏰ 타임라인:
00:00 인트로
00:30 본론 시작
02:00 핵심 내용
04:00 실전 적용
05:30 마무리

📞 문의: [이메일 주소]
🌐 블로그: [블로그 주소]

구독과 좋아요 부탁드립니다! 💕`,
	}
}

var baseHashtags = []string{
	"#유튜브", "#트렌드", "#분석", "#콘텐츠", "#영상",
	"#인기", "#화제", "#리뷰", "#가이드", "#팁",
}

func generateHashtagSuggestions(keywords []string) []string {
	tags := make([]string, 0, len(baseHashtags)+10)
	tags = append(tags, baseHashtags...)
	for _, kw := range headN(keywords, 10) {
		tags = append(tags, "#"+kw)
	}
	return tags
}

var scheduleDays = []string{"월", "화", "수", "목", "금", "토", "일"}

var scheduleContentTypes = []string{
	"트렌드 분석", "리뷰", "튜토리얼", "브이로그",
	"Q&A", "챌린지", "라이브",
}

var schedulePostingTimes = []string{
	"오전 9-10시", "오후 12-1시", "오후 6-7시", "오후 8-9시",
	"오전 10-11시", "오후 2-3시", "오후 7-8시", "오후 9-10시",
}

// generateContentSchedule is entirely static: seven entries cycling through
// fixed content-type and posting-time lists by index.
func generateContentSchedule() []ScheduleEntry {
	entries := make([]ScheduleEntry, 0, len(scheduleDays))
	for i, day := range scheduleDays {
		ct := scheduleContentTypes[i%len(scheduleContentTypes)]
		entries = append(entries, ScheduleEntry{
			Day:              day,
			SuggestedContent: ct,
			BestTime:         schedulePostingTimes[i%len(schedulePostingTimes)],
			Description:      fmt.Sprintf("%s요일 추천 콘텐츠: %s", day, ct),
		})
	}
	return entries
}

// predictPerformance counts how many whitespace tokens of the idea text
// substring-match any extracted keyword and maps the count onto a canned
// estimate. Three recommendation tiers: no match, one match, two or more.
func predictPerformance(ideaText string, videos []VideoRecord) PerformancePrediction {
	keywords := extractIdeaKeywords(videos)
	matchCount := 0
	for _, token := range strings.Fields(strings.ToLower(ideaText)) {
		for _, kw := range keywords {
			if strings.Contains(kw, token) {
				matchCount++
				break
			}
		}
	}

	var recommendations []string
	switch {
	case matchCount == 0:
		recommendations = []string{
			"트렌딩 키워드를 제목에 포함해보세요",
			"인기 있는 주제로 콘텐츠를 수정해보세요",
		}
	case matchCount < 2:
		recommendations = []string{
			"더 많은 트렌딩 키워드를 활용해보세요",
			"제목을 더 구체적으로 만들어보세요",
		}
	default:
		recommendations = []string{
			"좋은 키워드 선택입니다!",
			"썸네일과 설명도 최적화해보세요",
		}
	}

	return PerformancePrediction{
		EstimatedViews:    1000 + matchCount*500,
		KeywordMatchScore: matchCount,
		Confidence:        math.Min(float64(matchCount)/3, 1) * 100,
		Recommendations:   recommendations,
	}
}

func headN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// --- handlers ---

func (a *App) handleGenerateIdeas(w http.ResponseWriter, r *http.Request) {
	maxBody(r, defaultBodyLimit)

	var req struct {
		Videos      []VideoRecord   `json:"videos"`
		Preferences IdeaPreferences `json:"preferences"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Videos == nil {
		writeJSON(w, 400, map[string]string{"error": "videos required"})
		return
	}

	keywords := extractIdeaKeywords(req.Videos)
	topics := identifyTrendingTopics(req.Videos)

	writeJSON(w, 200, ContentIdeaBundle{
		VideoIdeas:           generateVideoIdeas(keywords, topics, req.Preferences),
		TitleSuggestions:     generateTitleSuggestions(keywords, req.Preferences),
		DescriptionTemplates: generateDescriptionTemplates(req.Preferences),
		HashtagSuggestions:   generateHashtagSuggestions(keywords),
		Schedule:             generateContentSchedule(),
	})
}

func (a *App) handlePredictPerformance(w http.ResponseWriter, r *http.Request) {
	maxBody(r, defaultBodyLimit)

	var req struct {
		Idea   string        `json:"idea"`
		Videos []VideoRecord `json:"videos"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Idea) == "" {
		writeJSON(w, 400, map[string]string{"error": "idea required"})
		return
	}
	if req.Videos == nil {
		writeJSON(w, 400, map[string]string{"error": "videos required"})
		return
	}

	writeJSON(w, 200, predictPerformance(req.Idea, req.Videos))
}

func (a *App) handleContentSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]interface{}{"schedule": generateContentSchedule()})
}
