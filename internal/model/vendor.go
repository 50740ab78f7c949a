package model

// Vendor is a parts or labor supplier from the vendor directory.
type Vendor struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	PhoneNumber string `json:"phone_number" yaml:"phone_number" mapstructure:"phone_number"`
	Priority    int    `json:"priority" yaml:"priority" mapstructure:"priority"`
	Specialty   string `json:"specialty,omitempty" yaml:"specialty" mapstructure:"specialty"`
	Callable    bool   `json:"callable" yaml:"callable" mapstructure:"callable"`
}
