package main

import (
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-marketplace/internal/domain/address"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/coupon"
	"github.com/xenking/kart-marketplace/internal/domain/product"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
)

// seedFile is the decoded seed document.
type seedFile struct {
	Products  []seedProduct
	Coupons   []coupon.Coupon
	Addresses []address.Address
	APIKeys   []seedKey
}

type seedProduct struct {
	Product product.Product
	Stock   stock.Record
}

// seedKey names the environment variable holding the raw key, so that keys
// never live in the repository.
type seedKey struct {
	Info auth.APIKeyInfo
	Env  string
}

// decodeSeed parses a seed document. Coupons get a validity window starting
// at now and ending valid_days later; stock records without a threshold get
// defaultThreshold.
func decodeSeed(data []byte, now time.Time, defaultThreshold int) (*seedFile, error) {
	var out seedFile
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d, now, defaultThreshold)
				out.Products = append(out.Products, p)
				return err
			})
		case "coupons":
			return d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCoupon(d, now)
				out.Coupons = append(out.Coupons, c)
				return err
			})
		case "addresses":
			return d.Arr(func(d *jx.Decoder) error {
				a, err := decodeAddress(d, now)
				out.Addresses = append(out.Addresses, a)
				return err
			})
		case "api_keys":
			return d.Arr(func(d *jx.Decoder) error {
				k, err := decodeKey(d)
				out.APIKeys = append(out.APIKeys, k)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode seed")
	}
	return &out, nil
}

func decodeProduct(d *jx.Decoder, now time.Time, defaultThreshold int) (seedProduct, error) {
	var p seedProduct
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "id":
			p.Product.ID, err = d.Str()
		case "seller_id":
			p.Product.SellerID, err = d.Str()
		case "name":
			p.Product.Name, err = d.Str()
		case "category":
			p.Product.Category, err = d.Str()
		case "price":
			p.Product.Price, err = decodeDecimal(d)
		case "stock":
			p.Stock.StockQuantity, err = d.Int()
		case "low_stock_threshold":
			p.Stock.LowStockThreshold, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return p, err
	}
	if p.Product.ID == "" || p.Product.SellerID == "" {
		return p, errors.New("product id and seller_id are required")
	}
	p.Product.CreatedAt = now
	p.Stock.ProductID = p.Product.ID
	p.Stock.CreatedAt = now
	if p.Stock.LowStockThreshold == 0 {
		p.Stock.LowStockThreshold = defaultThreshold
	}
	return p, nil
}

func decodeCoupon(d *jx.Decoder, now time.Time) (coupon.Coupon, error) {
	c := coupon.Coupon{IsActive: true, ValidFrom: now, CreatedAt: now}
	validDays := 30
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "id":
			c.ID, err = d.Str()
		case "code":
			c.Code, err = d.Str()
		case "type":
			var v string
			v, err = d.Str()
			c.Type = coupon.Type(v)
		case "value":
			c.Value, err = decodeDecimal(d)
		case "min_purchase":
			var v decimal.Decimal
			v, err = decodeDecimal(d)
			c.MinPurchaseAmount = &v
		case "max_discount":
			var v decimal.Decimal
			v, err = decodeDecimal(d)
			c.MaxDiscountAmount = &v
		case "valid_days":
			validDays, err = d.Int()
		case "usage_limit":
			c.UsageLimit, err = d.Int()
		case "active":
			c.IsActive, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return c, err
	}
	if !c.Type.Valid() {
		return c, errors.Errorf("coupon %s: unknown type %q", c.Code, c.Type)
	}
	c.ValidTo = now.AddDate(0, 0, validDays)
	return c, nil
}

func decodeAddress(d *jx.Decoder, now time.Time) (address.Address, error) {
	a := address.Address{CreatedAt: now}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "id":
			a.ID, err = d.Str()
		case "user_id":
			a.UserID, err = d.Str()
		case "full_name":
			a.FullName, err = d.Str()
		case "line1":
			a.Line1, err = d.Str()
		case "line2":
			a.Line2, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "state":
			a.State, err = d.Str()
		case "postal_code":
			a.PostalCode, err = d.Str()
		case "country":
			a.Country, err = d.Str()
		case "phone":
			a.Phone, err = d.Str()
		case "default":
			a.IsDefault, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

func decodeKey(d *jx.Decoder) (seedKey, error) {
	var k seedKey
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "id":
			k.Info.ID, err = d.Str()
		case "name":
			k.Info.Name, err = d.Str()
		case "user_id":
			k.Info.UserID, err = d.Str()
		case "role":
			var v string
			v, err = d.Str()
			k.Info.Role = auth.Role(v)
		case "env":
			k.Env, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return k, err
	}
	if !k.Info.Role.Valid() {
		return k, errors.Errorf("api key %s: unknown role %q", k.Info.ID, k.Info.Role)
	}
	return k, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	v, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(v)
}

// resolveKeys hashes the raw key of every entry whose environment variable
// is set and drops the others.
func resolveKeys(keys []seedKey, pepper []byte) (resolved []auth.APIKeyInfo, skipped []string) {
	for _, k := range keys {
		raw := os.Getenv(k.Env)
		if raw == "" {
			skipped = append(skipped, k.Info.ID)
			continue
		}
		info := k.Info
		info.KeyHash = auth.HashAPIKey(pepper, raw)
		resolved = append(resolved, info)
	}
	return resolved, skipped
}
