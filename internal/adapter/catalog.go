package adapter

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// CatalogEntry is one shop-curated flat-rate operation.
type CatalogEntry struct {
	Code        string
	Name        string
	Description string
	Category    string
	LaborHours  decimal.Decimal
	// PartsPrice is the flat parts estimate; zero when the operation is
	// labor only.
	PartsPrice decimal.Decimal
}

type catalogFile struct {
	Operations []struct {
		Code        string `yaml:"code"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Category    string `yaml:"category"`
		LaborHours  string `yaml:"labor_hours"`
		PartsPrice  string `yaml:"parts_price"`
	} `yaml:"operations"`
}

// LoadCatalog reads catalog entries from a YAML file.
func LoadCatalog(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "adapter: read catalog %s", path)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "adapter: parse catalog %s", path)
	}
	entries := make([]CatalogEntry, 0, len(f.Operations))
	for _, op := range f.Operations {
		if op.Name == "" {
			return nil, eris.Errorf("adapter: catalog entry %q has no name", op.Code)
		}
		e := CatalogEntry{Code: op.Code, Name: op.Name, Description: op.Description, Category: op.Category}
		if e.LaborHours, err = parseOptionalDecimal(op.LaborHours); err != nil {
			return nil, eris.Wrapf(err, "adapter: catalog %s labor_hours", op.Name)
		}
		if e.PartsPrice, err = parseOptionalDecimal(op.PartsPrice); err != nil {
			return nil, eris.Wrapf(err, "adapter: catalog %s parts_price", op.Name)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func op(code, name, desc, category, hours, parts string) CatalogEntry {
	return CatalogEntry{
		Code:        code,
		Name:        name,
		Description: desc,
		Category:    category,
		LaborHours:  decimal.RequireFromString(hours),
		PartsPrice:  decimal.RequireFromString(parts),
	}
}

// DefaultCatalog returns the built-in flat-rate operations.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		op("OIL-01", "Oil change", "Drain engine oil and replace oil filter", "Maintenance", "0.5", "35.00"),
		op("ROT-01", "Tire rotation", "Rotate tires front to rear", "Tires", "0.5", "0"),
		op("BAL-01", "Wheel balance", "Balance all four wheels", "Tires", "1.0", "8.00"),
		op("ALN-01", "Wheel alignment", "Four wheel alignment", "Steering", "1.0", "0"),
		op("BRK-01", "Front brake pads", "Replace front brake pads", "Brakes", "1.2", "65.00"),
		op("BRK-02", "Rear brake pads", "Replace rear brake pads", "Brakes", "1.2", "60.00"),
		op("BRK-03", "Front brake rotors", "Replace front rotors and pads", "Brakes", "1.8", "180.00"),
		op("BRK-04", "Brake fluid flush", "Bleed and replace brake fluid", "Brakes", "0.8", "15.00"),
		op("BAT-01", "Battery replacement", "Replace 12V battery and clean terminals", "Electrical", "0.4", "160.00"),
		op("ALT-01", "Alternator replacement", "Remove and replace alternator", "Electrical", "2.0", "250.00"),
		op("STR-01", "Starter replacement", "Remove and replace starter motor", "Electrical", "1.8", "220.00"),
		op("SPK-01", "Spark plugs", "Replace spark plugs (4 cylinder)", "Ignition", "1.0", "40.00"),
		op("SPK-02", "Spark plugs V6", "Replace spark plugs (6 cylinder)", "Ignition", "2.0", "60.00"),
		op("COL-01", "Ignition coil", "Replace one ignition coil", "Ignition", "0.5", "70.00"),
		op("AIR-01", "Engine air filter", "Replace engine air filter", "Maintenance", "0.2", "20.00"),
		op("CAB-01", "Cabin air filter", "Replace cabin air filter", "Maintenance", "0.3", "25.00"),
		op("WIP-01", "Wiper blades", "Replace front wiper blades", "Maintenance", "0.2", "30.00"),
		op("COO-01", "Coolant flush", "Drain and refill engine coolant", "Cooling", "1.0", "30.00"),
		op("THM-01", "Thermostat replacement", "Replace thermostat and gasket", "Cooling", "1.2", "45.00"),
		op("WPM-01", "Water pump replacement", "Replace water pump", "Cooling", "3.0", "120.00"),
		op("RAD-01", "Radiator replacement", "Replace radiator", "Cooling", "2.5", "220.00"),
		op("TRN-01", "Transmission fluid service", "Drain and fill automatic transmission fluid", "Drivetrain", "1.0", "60.00"),
		op("SER-01", "Serpentine belt", "Replace serpentine drive belt", "Engine", "0.6", "40.00"),
		op("TIM-01", "Timing belt", "Replace timing belt and tensioner", "Engine", "4.0", "180.00"),
		op("VCG-01", "Valve cover gasket", "Replace valve cover gasket", "Engine", "1.5", "35.00"),
		op("O2S-01", "Oxygen sensor", "Replace upstream oxygen sensor", "Emissions", "0.8", "90.00"),
		op("CAT-01", "Catalytic converter", "Replace catalytic converter", "Emissions", "2.0", "650.00"),
		op("SHK-01", "Front struts", "Replace front strut assemblies", "Suspension", "2.5", "300.00"),
		op("CVA-01", "CV axle", "Replace front CV axle shaft", "Drivetrain", "1.5", "110.00"),
		op("AC-01", "A/C recharge", "Evacuate and recharge A/C refrigerant", "HVAC", "1.0", "50.00"),
		op("DIA-01", "Check engine diagnosis", "Scan and diagnose check engine light", "Diagnostics", "1.0", "0"),
	}
}
