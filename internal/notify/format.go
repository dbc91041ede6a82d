package notify

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/albapepper/collection-watch/internal/collection"
)

// Message is a formatted chat alert with its primary link button.
type Message struct {
	Text   string
	URL    string
	Button string
}

// Formatter renders alert text. Linked output embeds Markdown links in the
// collection name; plain output appends raw URLs instead.
type Formatter struct {
	SiteURL   string // public site used in links
	MirrorURL string // mirror site for the partner channel
	FastURL   string // lightweight site offered next to privileged alerts
	Location  *time.Location
	Now       func() time.Time
}

// NewFormatter returns a Formatter with the production sites.
func NewFormatter() *Formatter {
	loc, err := time.LoadLocation("Asia/Yerevan")
	if err != nil {
		loc = time.UTC
	}
	return &Formatter{
		SiteURL:   "https://sss.ortak.me",
		MirrorURL: "https://hayo.ortak.me",
		FastURL:   "https://fast.ortak.me",
		Location:  loc,
		Now:       time.Now,
	}
}

func (f *Formatter) collectionURL(base, slug string) string {
	return base + "/collections/" + slug + "/nfts"
}

// CollectionURL is the public page of slug.
func (f *Formatter) CollectionURL(slug string) string {
	return f.collectionURL(f.SiteURL, slug)
}

// MirrorCollectionURL is the mirror site page of slug.
func (f *Formatter) MirrorCollectionURL(slug string) string {
	return f.collectionURL(f.MirrorURL, slug)
}

func viewButton(c collection.Collection) string {
	if c.IsSnowball() {
		return "🔗 View Snowball"
	}
	return "🔗 View Collection"
}

func name(c collection.Collection, url string, linked bool) string {
	if linked {
		return "[" + c.Name + "](" + url + ")"
	}
	return c.Name
}

// --------------------------------------------------------------------------
// Progress changes
// --------------------------------------------------------------------------

func (f *Formatter) changeBody(title string, ev ProgressChange) string {
	c := ev.Collection
	delta := ev.Delta()
	direction := "🔴⬇️"
	if c.Percent > ev.Previous {
		direction = "🟢⬆️"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Change: %s%% %s\n", direction, signed(delta, 2), title)
	fmt.Fprintf(&b, "🔹 New: %.2f%%\n", c.Percent)
	fmt.Fprintf(&b, "🔹 Old: %.2f%%\n", ev.Previous)
	if g := ev.LatestGGR; g != nil {
		fmt.Fprintf(&b, "📈 GGR: %.0f FTN (%s FTN)\n", math.Round(g.GGR), signed(g.Diff(), 0))
		fmt.Fprintf(&b, "🎯 Predicted GGR: %.0f FTN\n", math.Round(g.PredictedGGR))
	}
	if c.IsSnowball() {
		fmt.Fprintf(&b, "⏳ Reward in: %s\n", TimeUntilReward(c.RewardDate))
	}
	return b.String()
}

// ProgressChange formats a qualified percentage move.
func (f *Formatter) ProgressChange(ev ProgressChange, linked bool) Message {
	url := f.CollectionURL(ev.Collection.Slug)
	return Message{
		Text:   f.changeBody(name(ev.Collection, url, linked), ev),
		URL:    url,
		Button: viewButton(ev.Collection),
	}
}

// PrivilegedProgressChange formats the partner-channel variant, closed by
// the collection hashtag. URL points at the fast site.
func (f *Formatter) PrivilegedProgressChange(ev ProgressChange) Message {
	text := f.changeBody(ev.Collection.Name, ev) + "\n" + Hashtag(ev.Collection.Slug)
	return Message{
		Text:   text,
		URL:    f.collectionURL(f.FastURL, ev.Collection.Slug),
		Button: "Fast",
	}
}

// ProgressChangeTags returns the hashtag line of a change alert.
func ProgressChangeTags(c collection.Collection) string {
	if c.IsSnowball() {
		return "\n#SnowballPercentageChange " + Hashtag(c.Slug)
	}
	return "\n#CollectionPercentageChange " + Hashtag(c.Slug)
}

// --------------------------------------------------------------------------
// New collections and launches
// --------------------------------------------------------------------------

// NewCollection formats the discovery alert. mirror selects the mirror site.
func (f *Formatter) NewCollection(c collection.Collection, linked, mirror bool) Message {
	url := f.CollectionURL(c.Slug)
	if mirror {
		url = f.MirrorCollectionURL(c.Slug)
	}

	var b strings.Builder
	if c.IsSnowball() {
		b.WriteString("❄️ 🆕 *NEW SNOWBALL* 🆕 ❄️\n")
	} else {
		b.WriteString("🔥 🆕 *NEW COLLECTION* 🆕 🔥\n")
	}
	b.WriteString(name(c, url, linked) + "\n\n")
	fmt.Fprintf(&b, "👥 Supply: %d pcs.\n", c.NftsCount)
	fmt.Fprintf(&b, "💰 Price: %s FTN\n", plain(c.OriginalPrice))
	fmt.Fprintf(&b, "📊 Percent: %s%%\n", plain(c.Percent))
	if c.LiveDate > 0 {
		fmt.Fprintf(&b, "⏰ Launch Time: %s\n", f.LaunchTime(c.LiveDate))
		fmt.Fprintf(&b, "⏳ Time Left: %s\n", TimeLeft(c.LiveDate))
	}
	if c.IsSnowball() {
		fmt.Fprintf(&b, "⏳ Expires in: %d days\n", ExpirationDays(c.RewardDate))
	}
	return Message{Text: b.String(), URL: url, Button: viewButton(c)}
}

// LastChance formats the pre-launch alert.
func (f *Formatter) LastChance(c collection.Collection, linked, mirror bool) Message {
	url := f.CollectionURL(c.Slug)
	if mirror {
		url = f.MirrorCollectionURL(c.Slug)
	}
	title := "*" + c.Name + "*"
	if linked {
		title = name(c, url, true)
	}

	var b strings.Builder
	b.WriteString("⚡️ 🚨 *LAST CHANCE* 🚨 ⚡️\n")
	b.WriteString(title + "\n\n")
	fmt.Fprintf(&b, "👥 Supply: %d pcs.\n", c.NftsCount)
	fmt.Fprintf(&b, "💰 Price: %s FTN\n", plain(c.OriginalPrice))
	fmt.Fprintf(&b, "📊 Percent: %s%%\n", plain(c.Percent))
	fmt.Fprintf(&b, "⚠️ LAUNCHING IN %s ⚠️", TimeLeft(c.LiveDate))

	button := "🏃‍♂️ Quick View Collection"
	if c.IsSnowball() {
		button = "🏃‍♂️ Quick View Snowball"
	}
	return Message{Text: b.String(), URL: url, Button: button}
}

// NewCollectionTags returns the hashtag line of discovery and launch alerts.
func NewCollectionTags(c collection.Collection) string {
	return "\n#NewCollection " + Hashtag(c.Slug)
}

// --------------------------------------------------------------------------
// Digests
// --------------------------------------------------------------------------

// UpcomingRewards formats the daily reward digest. Empty input yields "".
func (f *Formatter) UpcomingRewards(cs []collection.Collection, snowballs, linked bool) string {
	if len(cs) == 0 {
		return ""
	}
	lines := make([]string, 0, len(cs))
	for _, c := range cs {
		url := f.CollectionURL(c.Slug)
		var b strings.Builder
		fmt.Fprintf(&b, "🎮 %s\n", name(c, url, linked))
		fmt.Fprintf(&b, "⏰ Reward in: %s\n", TimeUntilReward(c.RewardDate))
		if snowballs {
			fmt.Fprintf(&b, "🔸 Percent: %.2f%% %s\n", c.Percent, statusIcon(c))
		} else {
			fmt.Fprintf(&b, "💰 Reward amount: %.4f FTN\n", c.MonthlyReward())
		}
		if !linked {
			fmt.Fprintf(&b, "🔗 %s\n", url)
		}
		lines = append(lines, b.String())
	}

	header := "⚡️ Upcoming Rewards (Next 2 Days)"
	if snowballs {
		header = "❄️ Upcoming Snowball Rewards (Next 2 Days)"
	}
	return header + "\n\n" + strings.Join(lines, "\n\n")
}

// UpcomingRewardsTags returns the hashtag line of a reward digest.
func UpcomingRewardsTags(snowballs bool) string {
	if snowballs {
		return "\n#UpcomingSnowballRewards"
	}
	return "\n#UpcomingRewards"
}

// FinishingBatch formats the finishing-soon batch.
func (f *Formatter) FinishingBatch(items []FinishingItem, linked bool) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		c := it.Collection
		url := f.CollectionURL(c.Slug)
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n", name(c, url, linked))
		fmt.Fprintf(&b, "🔸 Percent: %.2f%% %s\n", c.Percent, statusIcon(c))
		if g := it.LatestGGR; g != nil {
			fmt.Fprintf(&b, "📈 GGR: %.0f FTN\n", math.Round(g.GGR))
			fmt.Fprintf(&b, "🎯 Predicted GGR: %.0f FTN\n", math.Round(g.PredictedGGR))
		}
		if !linked {
			fmt.Fprintf(&b, "🔗 %s\n", url)
		}
		parts = append(parts, b.String())
	}
	return "❄️ SNOWBALLS ENDING IN 5 MINUTES ❄️\n\n" + strings.Join(parts, "\n")
}

// FinishingTags closes a finishing batch.
const FinishingTags = "\n#SnowballFinalStats #EndingSnowballs"

// --------------------------------------------------------------------------
// Price drops
// --------------------------------------------------------------------------

// PriceDrop formats a lowest-price drop. withLinks appends raw item and
// collection URLs.
func (f *Formatter) PriceDrop(ev PriceDrop, withLinks bool) string {
	n := ev.NFT
	var b strings.Builder
	fmt.Fprintf(&b, "🎭 %s\n", n.Name)
	fmt.Fprintf(&b, "💹 %s%%\n", TrimZeros(n.YearlyPercent(), 2))
	fmt.Fprintf(&b, "💵 Price: %s FTN\n", TrimZeros(n.Price, 3))
	fmt.Fprintf(&b, "📉 Old Price: %s FTN\n", TrimZeros(ev.PreviousLowest, 3))
	fmt.Fprintf(&b, "🚀 Original Price: %s FTN\n", plain(ev.Collection.OriginalPrice))
	fmt.Fprintf(&b, "⏳ Reward in: %s\n", TimeUntilReward(ev.Collection.RewardDate))
	fmt.Fprintf(&b, "🪙 Monthly: %s FTN", TrimZeros(n.MonthlyRevenue(), 5))
	if withLinks {
		fmt.Fprintf(&b, "\n🔍 View NFT: %s", f.NFTURL(n.Slug))
		fmt.Fprintf(&b, "\n📊 View Collection: %s", f.SiteURL+"/en/collections/"+ev.Collection.Slug+"/nfts")
	}
	return b.String()
}

// NFTURL is the public page of one item.
func (f *Formatter) NFTURL(slug string) string {
	return f.SiteURL + "/en/nfts/" + slug
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// Hashtag converts a dash-separated slug into a CamelCase hashtag.
func Hashtag(slug string) string {
	words := strings.Split(slug, "-")
	var b strings.Builder
	b.WriteByte('#')
	for _, w := range words {
		if w == "" {
			continue
		}
		b.WriteString(strings.ToUpper(w[:1]) + w[1:])
	}
	return b.String()
}

// TimeUntilReward renders a reward countdown as days and hours.
func TimeUntilReward(seconds float64) string {
	days := int(math.Floor(seconds / 86400))
	hours := int(math.Floor(math.Mod(seconds, 86400) / 3600))
	if days > 0 {
		if hours > 0 {
			return fmt.Sprintf("%d days, %d hours", days, hours)
		}
		return fmt.Sprintf("%d days", days)
	}
	return fmt.Sprintf("%d hours", hours)
}

// TimeLeft renders a launch countdown.
func TimeLeft(seconds float64) string {
	s := int(seconds)
	switch {
	case s < 60:
		return fmt.Sprintf("%d seconds", s)
	case s < 3600:
		return fmt.Sprintf("%d minutes", s/60)
	}
	hours, minutes := s/3600, (s%3600)/60
	if minutes == 0 {
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d hours %d minutes", hours, minutes)
}

// ExpirationDays rounds a reward countdown to whole days.
func ExpirationDays(rewardSeconds float64) int {
	return int(math.Round(rewardSeconds / 86400))
}

// LaunchTime is the wall clock time, in the formatter's zone, at which a
// countdown of seconds ends.
func (f *Formatter) LaunchTime(seconds float64) string {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().Add(time.Duration(seconds * float64(time.Second))).In(loc).Format("15:04")
}

// TrimZeros formats v with the given decimals and drops trailing zeros.
func TrimZeros(v float64, decimals int) string {
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

func plain(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func signed(v float64, decimals int) string {
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if v > 0 && s != strconv.FormatFloat(0, 'f', decimals, 64) {
		return "+" + s
	}
	return s
}

func statusIcon(c collection.Collection) string {
	if c.Percent < 100 {
		return "🔴"
	}
	return "🟢"
}
