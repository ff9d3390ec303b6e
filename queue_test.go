package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueTestNode struct {
	queueLinks
	id int
}

func (n *queueTestNode) links() *queueLinks { return &n.queueLinks }

func TestQueue_PushAndOrder(t *testing.T) {
	t.Parallel()

	var q queue
	require.True(t, q.empty())
	require.Equal(t, 0, q.len())

	a := &queueTestNode{id: 1}
	b := &queueTestNode{id: 2}
	c := &queueTestNode{id: 3}

	q.push(a)
	q.push(b)
	q.push(c)

	assert.False(t, q.empty())
	assert.Equal(t, 3, q.len())

	var order []int
	for n := q.head; n != nil; n = n.(*queueTestNode).links().next {
		order = append(order, n.(*queueTestNode).id)
	}
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, q.tail, queueable(c))
}

func TestQueue_DetachHead(t *testing.T) {
	t.Parallel()

	var q queue
	a := &queueTestNode{id: 1}
	b := &queueTestNode{id: 2}
	q.push(a)
	q.push(b)

	q.detach(a)

	assert.Equal(t, 1, q.len())
	assert.Equal(t, queueable(b), q.head)
	assert.Equal(t, queueable(b), q.tail)
	assert.Nil(t, b.links().prev)
}

func TestQueue_DetachTail(t *testing.T) {
	t.Parallel()

	var q queue
	a := &queueTestNode{id: 1}
	b := &queueTestNode{id: 2}
	q.push(a)
	q.push(b)

	q.detach(b)

	assert.Equal(t, 1, q.len())
	assert.Equal(t, queueable(a), q.head)
	assert.Equal(t, queueable(a), q.tail)
	assert.Nil(t, a.links().next)
}

func TestQueue_DetachMiddle(t *testing.T) {
	t.Parallel()

	var q queue
	a := &queueTestNode{id: 1}
	b := &queueTestNode{id: 2}
	c := &queueTestNode{id: 3}
	q.push(a)
	q.push(b)
	q.push(c)

	q.detach(b)

	assert.Equal(t, 2, q.len())
	assert.Equal(t, queueable(c), a.links().next)
	assert.Equal(t, queueable(a), c.links().prev)
}

func TestQueue_DetachOnlyElement(t *testing.T) {
	t.Parallel()

	var q queue
	a := &queueTestNode{id: 1}
	q.push(a)

	q.detach(a)

	assert.True(t, q.empty())
	assert.Equal(t, 0, q.len())
	assert.Nil(t, q.head)
	assert.Nil(t, q.tail)
}
