package match

import (
	"github.com/huandu/skiplist"

	"github.com/0x5487/exchange-core/protocol"
)

// Order is the resting state of an order inside a book. Remaining is
// mutated only by the engine thread.
type Order struct {
	ID        protocol.OrderID
	UserID    protocol.UserID
	Symbol    string
	Side      protocol.Side
	Kind      protocol.OrderKind
	Price     protocol.Price
	Original  protocol.Quantity
	Remaining protocol.Quantity

	// Arrival is the per-symbol arrival sequence, the tiebreak after price.
	Arrival uint64

	// Intrusive linked list pointers for the price level FIFO.
	next *Order
	prev *Order
}

type priceUnit struct {
	totalQuantity protocol.Quantity
	head          *Order
	tail          *Order
	count         int64
}

type queue struct {
	side        protocol.Side
	totalOrders int64
	depths      int64
	depthList   *skiplist.SkipList
	priceList   map[protocol.Price]*skiplist.Element
	orders      map[protocol.OrderID]*Order
}

// newBuyerQueue creates a queue for buy orders (bids), sorted by price in
// descending order (highest price first).
func newBuyerQueue() *queue {
	return &queue{
		side: protocol.SideBuy,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(protocol.Price)
			p2, _ := rhs.(protocol.Price)

			if p1 < p2 {
				return 1
			} else if p1 > p2 {
				return -1
			}

			return 0
		})),
		priceList: make(map[protocol.Price]*skiplist.Element),
		orders:    make(map[protocol.OrderID]*Order),
	}
}

// newSellerQueue creates a queue for sell orders (asks), sorted by price in
// ascending order (lowest price first).
func newSellerQueue() *queue {
	return &queue{
		side: protocol.SideSell,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(protocol.Price)
			p2, _ := rhs.(protocol.Price)

			if p1 > p2 {
				return 1
			} else if p1 < p2 {
				return -1
			}

			return 0
		})),
		priceList: make(map[protocol.Price]*skiplist.Element),
		orders:    make(map[protocol.OrderID]*Order),
	}
}

// order finds a resting order by its ID.
func (q *queue) order(id protocol.OrderID) *Order {
	return q.orders[id]
}

// insertOrder inserts an order into the queue. isFront puts the order back
// at the head of its level, used when a partially filled maker returns.
func (q *queue) insertOrder(order *Order, isFront bool) {
	el, ok := q.priceList[order.Price]
	if ok {
		unit, _ := el.Value.(*priceUnit)
		if isFront {
			order.next = unit.head
			order.prev = nil
			if unit.head != nil {
				unit.head.prev = order
			}
			unit.head = order
			if unit.tail == nil {
				unit.tail = order
			}
		} else {
			order.prev = unit.tail
			order.next = nil
			if unit.tail != nil {
				unit.tail.next = order
			}
			unit.tail = order
			if unit.head == nil {
				unit.head = order
			}
		}

		unit.totalQuantity += order.Remaining
		unit.count++
		q.orders[order.ID] = order
		q.totalOrders++
	} else {
		unit := &priceUnit{
			head:          order,
			tail:          order,
			totalQuantity: order.Remaining,
			count:         1,
		}
		order.next = nil
		order.prev = nil

		q.orders[order.ID] = order

		el := q.depthList.Set(order.Price, unit)
		q.priceList[order.Price] = el

		q.totalOrders++
		q.depths++
	}
}

// removeOrder removes an order from the queue by price and ID, pruning the
// price level if it becomes empty.
func (q *queue) removeOrder(price protocol.Price, id protocol.OrderID) {
	skipElement, ok := q.priceList[price]
	if !ok {
		return
	}
	unit, _ := skipElement.Value.(*priceUnit)

	order, ok := q.orders[id]
	if !ok {
		return
	}

	if order.prev != nil {
		order.prev.next = order.next
	} else {
		unit.head = order.next
	}

	if order.next != nil {
		order.next.prev = order.prev
	} else {
		unit.tail = order.prev
	}

	order.next = nil
	order.prev = nil

	unit.totalQuantity -= order.Remaining
	unit.count--
	delete(q.orders, id)
	q.totalOrders--

	if unit.count == 0 {
		q.depthList.RemoveElement(skipElement)
		delete(q.priceList, price)
		q.depths--
	}
}

// peekHeadOrder returns the order at the front of the queue (best price,
// earliest arrival) without removing it.
func (q *queue) peekHeadOrder() *Order {
	el := q.depthList.Front()
	if el == nil {
		return nil
	}

	unit, _ := el.Value.(*priceUnit)
	return unit.head
}

// popHeadOrder removes and returns the order at the front of the queue.
func (q *queue) popHeadOrder() *Order {
	ord := q.peekHeadOrder()

	if ord != nil {
		q.removeOrder(ord.Price, ord.ID)
	}

	return ord
}

// orderCount returns the total number of orders in the queue.
func (q *queue) orderCount() int64 {
	return q.totalOrders
}

// depthCount returns the number of price levels in the queue.
func (q *queue) depthCount() int64 {
	return q.depths
}

// bestPrice returns the best price level, or 0 and false when empty.
func (q *queue) bestPrice() (protocol.Price, bool) {
	el := q.depthList.Front()
	if el == nil {
		return 0, false
	}
	price, _ := el.Key().(protocol.Price)
	return price, true
}

// depth returns up to limit aggregated price levels, best first.
func (q *queue) depth(limit int) []protocol.DepthLevel {
	result := make([]protocol.DepthLevel, 0, limit)

	el := q.depthList.Front()
	for i := 0; i < limit && el != nil; i++ {
		unit, _ := el.Value.(*priceUnit)
		price, _ := el.Key().(protocol.Price)
		result = append(result, protocol.DepthLevel{
			Price:    price,
			Quantity: unit.totalQuantity,
		})
		el = el.Next()
	}

	return result
}
