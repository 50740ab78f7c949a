package adapter

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/quote-sourcing/internal/model"
	"github.com/sells-group/quote-sourcing/pkg/browser"
)

// ScrapedConfidence is the confidence assigned to storefront quotes.
const ScrapedConfidence = 0.85

// Site describes one vendor storefront and how to drive it.
// Step values may reference {username}, {password}, {year}, {make},
// {model}, {query} and {part_number}.
type Site struct {
	Name          string         `yaml:"name"`
	VendorID      string         `yaml:"vendor_id"`
	URL           string         `yaml:"url"`
	Username      string         `yaml:"username"`
	Password      string         `yaml:"password"`
	Login         []browser.Step `yaml:"login"`
	LoggedIn      []Matcher      `yaml:"logged_in"`
	SelectVehicle []browser.Step `yaml:"select_vehicle"`
	Search        []browser.Step `yaml:"search"`
	Fields        SiteFields     `yaml:"fields"`
	// DefaultQuality applies when no quality matcher resolves.
	DefaultQuality string `yaml:"default_quality"`
}

// SiteFields holds the ordered matcher lists per extracted field. Price is
// mandatory; the rest are optional.
type SiteFields struct {
	Price        []Matcher `yaml:"price"`
	Availability []Matcher `yaml:"availability"`
	DeliveryDays []Matcher `yaml:"delivery_days"`
	Quality      []Matcher `yaml:"quality"`
}

type sitesFile struct {
	Sites []Site `yaml:"sites"`
}

// LoadSites reads site definitions from a YAML file. Credentials may use
// ${ENV} references.
func LoadSites(path string) ([]Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "adapter: read sites %s", path)
	}
	var f sitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "adapter: parse sites %s", path)
	}
	for i := range f.Sites {
		s := &f.Sites[i]
		s.Username = os.ExpandEnv(s.Username)
		s.Password = os.ExpandEnv(s.Password)
		if s.Name == "" || s.URL == "" {
			return nil, eris.Errorf("adapter: site %d: name and url are required", i)
		}
		if len(s.Fields.Price) == 0 {
			return nil, eris.Errorf("adapter: site %s: no price matchers", s.Name)
		}
	}
	return f.Sites, nil
}

// Scraped quotes parts from a vendor storefront through the browser service.
type Scraped struct {
	site        Site
	driver      browser.Driver
	stepTimeout time.Duration
	nowFunc     func() time.Time
}

// NewScraped creates a scraped adapter for one site.
func NewScraped(site Site, driver browser.Driver, stepTimeout time.Duration) *Scraped {
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	return &Scraped{site: site, driver: driver, stepTimeout: stepTimeout, nowFunc: time.Now}
}

// Name implements Adapter.
func (s *Scraped) Name() string { return "scraped:" + s.site.Name }

// Attempt implements Adapter. One browser session is opened per attempt and
// always closed.
func (s *Scraped) Attempt(ctx context.Context, vehicle model.VehicleDescriptor, item model.ItemRequest) (model.Quote, error) {
	if item.Kind != model.ItemKindPart {
		return model.Quote{}, Fail(s.Name(), KindNotFound, "storefronts quote parts only", nil)
	}

	openCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	sess, err := s.driver.Open(openCtx, s.site.URL)
	cancel()
	if err != nil {
		return model.Quote{}, s.classify("open", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.stepTimeout)
		defer cancel()
		if cerr := sess.Close(closeCtx); cerr != nil {
			zap.L().Warn("adapter: close browser session",
				zap.String("adapter", s.Name()),
				zap.String("session", sess.ID()),
				zap.Error(cerr),
			)
		}
	}()

	vars := strings.NewReplacer(
		"{username}", s.site.Username,
		"{password}", s.site.Password,
		"{year}", strconv.Itoa(vehicle.Year),
		"{make}", vehicle.Make,
		"{model}", vehicle.Model,
		"{query}", item.SearchTerm(),
		"{part_number}", item.PartNumber,
	)

	if err := s.run(ctx, sess, "login", s.site.Login, vars); err != nil {
		return model.Quote{}, err
	}
	if len(s.site.LoggedIn) > 0 {
		_, ok, err := s.extract(ctx, sess, s.site.LoggedIn)
		if err != nil {
			return model.Quote{}, s.classify("login check", err)
		}
		if !ok {
			return model.Quote{}, Fail(s.Name(), KindAuthenticationFailed, "logged-in marker not found", nil)
		}
	}
	if err := s.run(ctx, sess, "select vehicle", s.site.SelectVehicle, vars); err != nil {
		return model.Quote{}, err
	}
	if err := s.run(ctx, sess, "search", s.site.Search, vars); err != nil {
		return model.Quote{}, err
	}

	return s.read(ctx, sess)
}

func (s *Scraped) read(ctx context.Context, sess browser.Session) (model.Quote, error) {
	rawPrice, ok, err := s.extract(ctx, sess, s.site.Fields.Price)
	if err != nil {
		return model.Quote{}, s.classify("extract price", err)
	}
	if !ok {
		return model.Quote{}, Fail(s.Name(), KindFieldNotFound, "price", nil)
	}
	price, err := ParsePrice(rawPrice)
	if err != nil {
		return model.Quote{}, Fail(s.Name(), KindFieldNotFound, "price: "+err.Error(), err)
	}

	evidence := []string{"price=" + rawPrice}
	q := model.Quote{
		SourceKind:   model.SourceScraped,
		VendorID:     s.site.VendorID,
		Price:        model.NewPrice(price),
		Availability: model.AvailabilityUnknown,
		Quality:      model.ParseQuality(s.site.DefaultQuality),
		Confidence:   ScrapedConfidence,
		CapturedAt:   s.nowFunc().UTC(),
	}

	if raw, ok, err := s.extract(ctx, sess, s.site.Fields.Availability); err != nil {
		return model.Quote{}, s.classify("extract availability", err)
	} else if ok {
		q.Availability = model.ParseAvailability(raw)
		evidence = append(evidence, "availability="+raw)
	}
	if raw, ok, err := s.extract(ctx, sess, s.site.Fields.DeliveryDays); err != nil {
		return model.Quote{}, s.classify("extract delivery", err)
	} else if ok {
		if days, ok := parseDays(raw); ok {
			q.DeliveryDays = model.Days(days)
		}
		evidence = append(evidence, "delivery="+raw)
	}
	if raw, ok, err := s.extract(ctx, sess, s.site.Fields.Quality); err != nil {
		return model.Quote{}, s.classify("extract quality", err)
	} else if ok {
		q.Quality = model.ParseQuality(raw)
		evidence = append(evidence, "quality="+raw)
	}

	q.RawEvidence = strings.Join(evidence, "; ")
	return q, nil
}

func (s *Scraped) run(ctx context.Context, sess browser.Session, phase string, steps []browser.Step, vars *strings.Replacer) error {
	for _, step := range steps {
		step.Value = vars.Replace(step.Value)
		stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
		err := sess.Do(stepCtx, step)
		cancel()
		if err != nil {
			if phase == "login" && errors.Is(err, browser.ErrElementNotFound) {
				return Fail(s.Name(), KindAuthenticationFailed, "login form: "+step.Selector, err)
			}
			return s.classify(phase, err)
		}
	}
	return nil
}

func (s *Scraped) extract(ctx context.Context, sess browser.Session, matchers []Matcher) (string, bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	return Extract(stepCtx, sess, matchers)
}

func (s *Scraped) classify(phase string, err error) error {
	switch {
	case errors.Is(err, browser.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Fail(s.Name(), KindTimeout, phase, err)
	case errors.Is(err, browser.ErrElementNotFound):
		return Fail(s.Name(), KindFieldNotFound, phase, err)
	default:
		return Fail(s.Name(), KindTransportError, phase+": "+err.Error(), err)
	}
}

var priceRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParsePrice extracts a decimal amount from text like "$1,054.35 ea".
func ParsePrice(s string) (decimal.Decimal, error) {
	m := priceRe.FindString(s)
	if m == "" {
		return decimal.Decimal{}, eris.Errorf("no amount in %q", s)
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return decimal.Decimal{}, eris.Wrapf(err, "parse amount %q", m)
	}
	return d, nil
}

var daysRe = regexp.MustCompile(`(?i)(\d+)\s*(business\s+)?(day|week)s?`)

// parseDays reads "3 days", "2 weeks", "same day" or a bare number.
func parseDays(s string) (int, bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	if strings.Contains(t, "same day") || strings.Contains(t, "today") {
		return 0, true
	}
	if strings.Contains(t, "tomorrow") || strings.Contains(t, "next day") {
		return 1, true
	}
	if m := daysRe.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(m[1])
		if m[3] == "week" {
			n *= 7
		}
		return n, true
	}
	if n, err := strconv.Atoi(t); err == nil && n >= 0 {
		return n, true
	}
	return 0, false
}
