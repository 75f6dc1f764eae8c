package domain

// CatalogItem is an advertisable unit tracked outside the ad platform. Nil
// pointers mean the catalog does not know the value.
type CatalogItem struct {
	ID            string   `json:"id" yaml:"id"`
	ExternalID    string   `json:"external_id" yaml:"external_id"`
	SKU           string   `json:"sku,omitempty" yaml:"sku,omitempty"`
	Title         string   `json:"title,omitempty" yaml:"title,omitempty"`
	Price         *float64 `json:"price,omitempty" yaml:"price,omitempty"`
	CategoryID    string   `json:"category_id,omitempty" yaml:"category_id,omitempty"`
	Stock         *int64   `json:"stock,omitempty" yaml:"stock,omitempty"`
	LifetimeSales *int64   `json:"lifetime_sales,omitempty" yaml:"lifetime_sales,omitempty"`
	Status        string   `json:"status,omitempty" yaml:"status,omitempty"`
}
