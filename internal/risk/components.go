package risk

import (
	"math"
	"sort"
	"strings"
	"time"

	"spyglass/pkg/config"
	"spyglass/pkg/models"
)

// velocitySaturation is the posts-per-hour rate at which the velocity base
// score reaches 1.0.
const velocitySaturation = 10.0

// burstBonusWeight scales the burst ratio added on top of the base velocity.
const burstBonusWeight = 0.2

// VelocityScore measures posting rate in [0,1]. Fewer than two posts score
// 0.0; a zero time span (all posts simultaneous) scores 1.0 as a degenerate
// high-risk case. A burst bonus is added for timestamps that anchor a short
// window holding several posts.
func VelocityScore(posts []models.Post, burst config.BurstConfig) float64 {
	if len(posts) < 2 {
		return 0.0
	}

	timestamps := make([]time.Time, 0, len(posts))
	for _, p := range posts {
		timestamps = append(timestamps, p.Timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	timeSpan := timestamps[len(timestamps)-1].Sub(timestamps[0]).Seconds()
	if timeSpan <= 0 {
		return 1.0
	}

	postsPerHour := float64(len(posts)) / (timeSpan / 3600)
	score := math.Min(postsPerHour/velocitySaturation, 1.0)

	burstCount := 0
	for i, ts := range timestamps {
		windowPosts := 0
		for _, other := range timestamps[i:] {
			if other.Sub(ts) <= burst.Window {
				windowPosts++
			}
		}
		if windowPosts >= burst.MinPosts {
			burstCount++
		}
	}
	burstRatio := float64(burstCount) / float64(len(timestamps))

	return math.Min(score+burstRatio*burstBonusWeight, 1.0)
}

// CoordinationDensity measures how much of a narrative's authorship is
// covered by coordination groups, weighted by group strength. Narratives with
// at most one author, or with no groups touching them, score 0.0.
func CoordinationDensity(narrativeID string, groups []models.CoordinationGroup, totalAuthors int) float64 {
	if totalAuthors <= 1 {
		return 0.0
	}

	coordinatedAuthors := make(map[string]struct{})
	totalGroupScore := 0.0

	for _, group := range groups {
		if !containsString(group.NarrativeIDs, narrativeID) {
			continue
		}
		for _, author := range group.AuthorIDs {
			coordinatedAuthors[author] = struct{}{}
		}
		totalGroupScore += group.Score * float64(group.Size)
	}

	if len(coordinatedAuthors) == 0 {
		return 0.0
	}

	coordinationRatio := float64(len(coordinatedAuthors)) / float64(totalAuthors)
	avgGroupScore := totalGroupScore / float64(len(coordinatedAuthors))

	return math.Min(coordinationRatio*0.6+avgGroupScore*0.4, 1.0)
}

// BotScore averages per-author bot indicators over the authors with at least
// two posts. Each indicator adds a fixed weight and the per-author sum is
// clamped to 1.0. Narratives with no qualifying authors score 0.0.
func BotScore(posts []models.Post, cfg config.BotIndicatorConfig) float64 {
	authorPosts := make(map[string][]models.Post)
	for _, post := range posts {
		authorPosts[post.AuthorID] = append(authorPosts[post.AuthorID], post)
	}

	var indicators []float64
	for _, list := range authorPosts {
		if len(list) < 2 {
			continue
		}
		indicators = append(indicators, authorBotIndicator(list, cfg))
	}

	if len(indicators) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, v := range indicators {
		sum += v
	}
	return sum / float64(len(indicators))
}

func authorBotIndicator(posts []models.Post, cfg config.BotIndicatorConfig) float64 {
	score := 0.0

	timestamps := make([]time.Time, 0, len(posts))
	for _, p := range posts {
		timestamps = append(timestamps, p.Timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	// High posting frequency
	timeSpan := timestamps[len(timestamps)-1].Sub(timestamps[0]).Seconds()
	if timeSpan > 0 {
		postsPerHour := float64(len(posts)) / (timeSpan / 3600)
		if postsPerHour > cfg.MaxPostsPerHour {
			score += 0.3
		}
	}

	// Repetitive content
	if len(posts) >= 3 {
		unique := make(map[string]struct{}, len(posts))
		for _, p := range posts {
			unique[p.Text] = struct{}{}
		}
		if float64(len(unique))/float64(len(posts)) < cfg.MinUniqueTextRatio {
			score += 0.3
		}
	}

	// Regular posting intervals
	if len(timestamps) >= 3 {
		intervals := make([]float64, 0, len(timestamps)-1)
		for i := 1; i < len(timestamps); i++ {
			intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]).Seconds())
		}

		avg := 0.0
		for _, iv := range intervals {
			avg += iv
		}
		avg /= float64(len(intervals))

		variance := 0.0
		for _, iv := range intervals {
			variance += (iv - avg) * (iv - avg)
		}
		variance /= float64(len(intervals))

		if avg > 0 && variance/avg < cfg.MaxIntervalVariance {
			score += 0.2
		}
	}

	// Link-heavy posting
	urlPosts := 0
	for _, p := range posts {
		if len(p.URLs) > 0 {
			urlPosts++
		}
	}
	if float64(urlPosts)/float64(len(posts)) > cfg.MinURLRatio {
		score += 0.2
	}

	return math.Min(score, 1.0)
}

// ForeignDomainRatio is the share of distinct domains matching a configured
// foreign suffix. Narratives without any domains score 0.0.
func ForeignDomainRatio(posts []models.Post, foreignTLDs []string) float64 {
	allDomains := make(map[string]struct{})
	foreignDomains := make(map[string]struct{})

	for _, post := range posts {
		for _, domain := range post.Domains {
			allDomains[domain] = struct{}{}
			for _, tld := range foreignTLDs {
				if strings.HasSuffix(domain, tld) {
					foreignDomains[domain] = struct{}{}
					break
				}
			}
		}
	}

	if len(allDomains) == 0 {
		return 0.0
	}
	return float64(len(foreignDomains)) / float64(len(allDomains))
}

// ToxicityScore is the toxic-token density across all narrative text,
// saturating at the configured density. Narratives without text tokens score
// 0.0. This is a keyword heuristic, not a model.
func ToxicityScore(posts []models.Post, keywords []string, saturation float64) float64 {
	keywordSet := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		keywordSet[strings.ToLower(kw)] = struct{}{}
	}

	toxicCount := 0
	totalWords := 0

	for _, post := range posts {
		for _, word := range strings.Fields(strings.ToLower(post.Text)) {
			totalWords++
			if _, ok := keywordSet[stripNonAlnum(word)]; ok {
				toxicCount++
			}
		}
	}

	if totalWords == 0 {
		return 0.0
	}

	ratio := float64(toxicCount) / float64(totalWords)
	return math.Min(ratio/saturation, 1.0)
}

func stripNonAlnum(word string) string {
	var b strings.Builder
	for _, r := range word {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
