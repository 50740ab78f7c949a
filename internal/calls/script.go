package calls

import (
	"strings"
	"text/template"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quote-sourcing/internal/model"
)

// Script is the structured text read to a vendor.
type Script struct {
	Greeting  string   `json:"greeting"`
	Vehicle   string   `json:"vehicle"`
	Request   string   `json:"request"`
	Questions []string `json:"questions"`
	Closing   string   `json:"closing"`
}

var (
	partQuestions = []string{
		"What is your price for it?",
		"Do you have it in stock?",
		"If not, how many days until you can get it?",
		"Is it OEM, aftermarket, or remanufactured?",
		"Is there a core charge?",
	}
	laborQuestions = []string{
		"How many labor hours do you quote for this job?",
		"What is your price for it?",
		"How soon could the vehicle be scheduled?",
	}
)

var scriptTemplates = template.Must(template.New("script").Parse(`
{{define "greeting"}}Hi, this is {{.ShopName}} calling{{with .VendorName}} for {{.}}{{end}} about a quote.{{end}}
{{define "vehicle"}}It's for a {{.Vehicle.Year}} {{.Vehicle.Make}} {{.Vehicle.Model}}.{{end}}
{{define "request"}}{{if .Labor}}We need a labor quote for {{.Item.Description}}{{else}}We're looking for {{.Item.Description}}{{with .Item.PartNumber}}, part number {{.}}{{end}}{{end}}.{{end}}
{{define "closing"}}Thanks for your help. Goodbye.{{end}}
`))

type scriptData struct {
	ShopName   string
	VendorName string
	Vehicle    model.VehicleDescriptor
	Item       model.ItemRequest
	Labor      bool
}

// BuildScript renders the call script for one vendor.
func BuildScript(shopName string, v model.Vendor, vehicle model.VehicleDescriptor, item model.ItemRequest) (Script, error) {
	data := scriptData{
		ShopName:   shopName,
		VendorName: v.Name,
		Vehicle:    vehicle,
		Item:       item,
		Labor:      item.Kind == model.ItemKindLabor,
	}
	if strings.TrimSpace(item.Description) == "" {
		data.Item.Description = "a part"
	}

	var s Script
	for _, sec := range []struct {
		name string
		dst  *string
	}{
		{"greeting", &s.Greeting},
		{"vehicle", &s.Vehicle},
		{"request", &s.Request},
		{"closing", &s.Closing},
	} {
		var sb strings.Builder
		if err := scriptTemplates.ExecuteTemplate(&sb, sec.name, data); err != nil {
			return Script{}, eris.Wrapf(err, "calls: render %s", sec.name)
		}
		*sec.dst = sb.String()
	}

	qs := partQuestions
	if data.Labor {
		qs = laborQuestions
	}
	s.Questions = append([]string(nil), qs...)
	return s, nil
}

// Text joins the sections into the prompt sent to the voice platform.
func (s Script) Text() string {
	lines := []string{s.Greeting, s.Vehicle, s.Request}
	lines = append(lines, s.Questions...)
	lines = append(lines, s.Closing)
	return strings.Join(lines, "\n")
}
