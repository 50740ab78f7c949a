package partnerapi

import (
	"encoding/xml"

	"github.com/shopspring/decimal"
)

// Namespace is the partner service's target namespace.
const Namespace = "urn:partner-parts:v2"

// Vehicle identifies a vehicle in partner requests.
type Vehicle struct {
	Year  int    `xml:"Year"`
	Make  string `xml:"Make"`
	Model string `xml:"Model"`
}

type loginRequest struct {
	XMLName       xml.Name `xml:"urn:partner-parts:v2 Login"`
	Username      string   `xml:"Username"`
	Password      string   `xml:"Password"`
	AccountNumber string   `xml:"AccountNumber,omitempty"`
}

type loginResponse struct {
	XMLName      xml.Name `xml:"LoginResponse"`
	SessionToken string   `xml:"SessionToken"`
}

// SearchPartsRequest searches the partner catalog.
type SearchPartsRequest struct {
	XMLName      xml.Name `xml:"urn:partner-parts:v2 SearchParts"`
	SessionToken string   `xml:"SessionToken"`
	Vehicle      Vehicle  `xml:"Vehicle"`
	Query        string   `xml:"Query,omitempty"`
	PartNumber   string   `xml:"PartNumber,omitempty"`
}

// PartSummary is one search hit.
type PartSummary struct {
	PartNumber  string `xml:"PartNumber"`
	Description string `xml:"Description"`
	Brand       string `xml:"Brand"`
	QualityTier string `xml:"QualityTier"`
}

// SearchPartsResponse lists matching parts.
type SearchPartsResponse struct {
	XMLName xml.Name      `xml:"SearchPartsResponse"`
	Parts   []PartSummary `xml:"Parts>Part"`
}

// PricingRequest asks for the shop's price on one part.
type PricingRequest struct {
	XMLName      xml.Name `xml:"urn:partner-parts:v2 GetPricing"`
	SessionToken string   `xml:"SessionToken"`
	PartNumber   string   `xml:"PartNumber"`
	Quantity     int      `xml:"Quantity"`
}

// PricingResponse carries price and stock for one part.
type PricingResponse struct {
	XMLName           xml.Name        `xml:"GetPricingResponse"`
	PartNumber        string          `xml:"PartNumber"`
	Price             decimal.Decimal `xml:"Price"`
	ListPrice         decimal.Decimal `xml:"ListPrice"`
	QuantityAvailable int             `xml:"QuantityAvailable"`
	DeliveryDays      int             `xml:"DeliveryDays"`
	Warehouse         string          `xml:"Warehouse"`
	QualityTier       string          `xml:"QualityTier"`
}

type decodeVINRequest struct {
	XMLName      xml.Name `xml:"urn:partner-parts:v2 DecodeVIN"`
	SessionToken string   `xml:"SessionToken"`
	VIN          string   `xml:"VIN"`
}

// VINResponse is a decoded VIN.
type VINResponse struct {
	XMLName xml.Name `xml:"DecodeVINResponse"`
	VIN     string   `xml:"VIN"`
	Year    int      `xml:"Year"`
	Make    string   `xml:"Make"`
	Model   string   `xml:"Model"`
	Trim    string   `xml:"Trim"`
	Engine  string   `xml:"Engine"`
}

// LaborTimeRequest asks for book hours for one operation.
type LaborTimeRequest struct {
	XMLName      xml.Name `xml:"urn:partner-parts:v2 GetLaborTime"`
	SessionToken string   `xml:"SessionToken"`
	Vehicle      Vehicle  `xml:"Vehicle"`
	Operation    string   `xml:"Operation"`
}

// LaborTimeResponse carries book hours.
type LaborTimeResponse struct {
	XMLName       xml.Name        `xml:"GetLaborTimeResponse"`
	OperationCode string          `xml:"OperationCode"`
	Description   string          `xml:"Description"`
	Hours         decimal.Decimal `xml:"Hours"`
}

type laborOperationsRequest struct {
	XMLName      xml.Name `xml:"urn:partner-parts:v2 ListLaborOperations"`
	SessionToken string   `xml:"SessionToken"`
	Vehicle      Vehicle  `xml:"Vehicle"`
}

// LaborOperation is one entry in the partner's labor guide.
type LaborOperation struct {
	Code        string          `xml:"Code"`
	Description string          `xml:"Description"`
	Hours       decimal.Decimal `xml:"Hours"`
}

// LaborOperationsResponse lists operations for a vehicle.
type LaborOperationsResponse struct {
	XMLName    xml.Name         `xml:"ListLaborOperationsResponse"`
	Operations []LaborOperation `xml:"Operations>Operation"`
}

// OrderLine is one part on an order.
type OrderLine struct {
	PartNumber string `xml:"PartNumber"`
	Quantity   int    `xml:"Quantity"`
}

// OrderRequest places an order.
type OrderRequest struct {
	XMLName      xml.Name    `xml:"urn:partner-parts:v2 PlaceOrder"`
	SessionToken string      `xml:"SessionToken"`
	PONumber     string      `xml:"PONumber"`
	Lines        []OrderLine `xml:"Lines>Line"`
}

// OrderResponse acknowledges an order.
type OrderResponse struct {
	XMLName xml.Name `xml:"PlaceOrderResponse"`
	OrderID string   `xml:"OrderID"`
	Status  string   `xml:"Status"`
}

type orderStatusRequest struct {
	XMLName      xml.Name `xml:"urn:partner-parts:v2 GetOrderStatus"`
	SessionToken string   `xml:"SessionToken"`
	OrderID      string   `xml:"OrderID"`
}

// OrderStatusResponse reports order progress.
type OrderStatusResponse struct {
	XMLName xml.Name `xml:"GetOrderStatusResponse"`
	OrderID string   `xml:"OrderID"`
	Status  string   `xml:"Status"`
	ETA     string   `xml:"ETA"`
}
