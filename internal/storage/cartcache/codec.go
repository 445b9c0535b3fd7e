package cartcache

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-marketplace/internal/domain/cart"
)

func encodeCart(c *cart.Cart) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(c.UserID) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(c.CreatedAt.Format(time.RFC3339Nano)) })
		if c.UpdatedAt != nil {
			e.Field("updated_at", func(e *jx.Encoder) { e.Str(c.UpdatedAt.Format(time.RFC3339Nano)) })
		}
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range c.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(l.UnitPrice.String()) })
						e.Field("added_at", func(e *jx.Encoder) { e.Str(l.AddedAt.Format(time.RFC3339Nano)) })
					})
				}
			})
		})
	})
	return append([]byte(nil), e.Bytes()...)
}

func decodeCart(data []byte) (*cart.Cart, error) {
	c := &cart.Cart{}
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			v, err := d.Str()
			c.ID = v
			return err
		case "user_id":
			v, err := d.Str()
			c.UserID = v
			return err
		case "created_at":
			t, err := decodeTime(d)
			c.CreatedAt = t
			return err
		case "updated_at":
			t, err := decodeTime(d)
			if err != nil {
				return err
			}
			c.UpdatedAt = &t
			return nil
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return err
				}
				c.Lines = append(c.Lines, l)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	return c, nil
}

func decodeLine(d *jx.Decoder) (cart.Line, error) {
	var l cart.Line
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "product_id":
			v, err := d.Str()
			l.ProductID = v
			return err
		case "quantity":
			v, err := d.Int()
			l.Quantity = v
			return err
		case "unit_price":
			v, err := d.Str()
			if err != nil {
				return err
			}
			l.UnitPrice, err = decimal.NewFromString(v)
			return err
		case "added_at":
			t, err := decodeTime(d)
			l.AddedAt = t
			return err
		default:
			return d.Skip()
		}
	})
	return l, err
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	v, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}
